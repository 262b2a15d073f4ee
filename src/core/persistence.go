package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const pendingTxsFilename = "pending_transactions.json"

// SavePendingTransactions writes the unprocessed queue to a JSON file.
// An empty queue removes any stale file.
func (n *ValidationNode) SavePendingTransactions(dataDir string) error {
	n.queueMu.Lock()
	pending := make([]Transaction, len(n.queue))
	copy(pending, n.queue)
	n.queueMu.Unlock()

	if len(pending) == 0 {
		return n.ClearPendingTransactionsFile(dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	filePath := filepath.Join(dataDir, pendingTxsFilename)

	data, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pending transactions: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write pending transactions file: %w", err)
	}

	logger.Info("Saved pending transactions", "count", len(pending), "file", filePath)
	return nil
}

// LoadPendingTransactions puts saved transactions back at the head of the
// queue and removes the file. Malformed entries are skipped.
func (n *ValidationNode) LoadPendingTransactions(dataDir string) error {
	filePath := filepath.Join(dataDir, pendingTxsFilename)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read pending transactions file: %w", err)
	}

	var saved []Transaction
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("failed to unmarshal pending transactions: %w", err)
	}

	restored := make([]Transaction, 0, len(saved))
	for i := range saved {
		if err := ValidateTransactionStructure(&saved[i]); err != nil {
			logger.Warn("Skipping malformed pending transaction", "index", i, "error", err)
			continue
		}
		restored = append(restored, saved[i])
	}

	n.queueMu.Lock()
	n.queue = append(restored, n.queue...)
	depth := len(n.queue)
	n.queueMu.Unlock()
	UpdateQueueDepthGauge(depth)

	logger.Info("Loaded pending transactions", "count", len(restored), "file", filePath)

	return n.ClearPendingTransactionsFile(dataDir)
}

// ClearPendingTransactionsFile removes the pending transactions file
func (n *ValidationNode) ClearPendingTransactionsFile(dataDir string) error {
	filePath := filepath.Join(dataDir, pendingTxsFilename)

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pending transactions file: %w", err)
	}

	return nil
}
