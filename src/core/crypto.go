package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

const (
	nodeKeyFilename = "node_key.pem"
	proverKeyLabel  = "proofnode/prover-key"
)

// NodeIdentity is the node's ECDSA P-256 key pair and derived ID
type NodeIdentity struct {
	NodeID     string
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// NewNodeIdentity generates a fresh key pair
func NewNodeIdentity() (*NodeIdentity, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return identityFromKey(privateKey), nil
}

func identityFromKey(privateKey *ecdsa.PrivateKey) *NodeIdentity {
	publicKeyBytes := elliptic.Marshal(privateKey.PublicKey.Curve, privateKey.PublicKey.X, privateKey.PublicKey.Y)
	return &NodeIdentity{
		NodeID:     fmt.Sprintf("%x", sha256.Sum256(publicKeyBytes))[:16],
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}
}

// LoadOrCreateNodeIdentity reads the node key from dataDir, creating and
// persisting one on first start
func LoadOrCreateNodeIdentity(dataDir string) (*NodeIdentity, error) {
	path := filepath.Join(dataDir, nodeKeyFilename)

	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("failed to decode node key file %s", path)
		}
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse node key: %w", err)
		}
		return identityFromKey(key), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read node key: %w", err)
	}

	id, err := NewNodeIdentity()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0600); err != nil {
		return nil, fmt.Errorf("failed to write node key: %w", err)
	}
	return id, nil
}

// ProverKey derives the keyed-hash secret used by the lightweight provers
func (id *NodeIdentity) ProverKey() []byte {
	d := make([]byte, 32)
	id.PrivateKey.D.FillBytes(d)
	return sha256Concat([]byte(proverKeyLabel), d)
}

// IDFragment returns the first four bytes of the node ID
func (id *NodeIdentity) IDFragment() [4]byte {
	var out [4]byte
	raw, err := hex.DecodeString(id.NodeID)
	if err == nil {
		copy(out[:], raw)
	}
	return out
}

// SignData signs data with the node's private key
func (id *NodeIdentity) SignData(data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)

	r, s, err := ecdsa.Sign(rand.Reader, id.PrivateKey, hash[:])
	if err != nil {
		return nil, err
	}

	// r || s, each padded to 32 bytes
	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature, nil
}

// GetPublicKeyHex returns the hex-encoded public key in uncompressed format
func (id *NodeIdentity) GetPublicKeyHex() string {
	return hex.EncodeToString(elliptic.Marshal(id.PublicKey.Curve, id.PublicKey.X, id.PublicKey.Y))
}

// VerifySignature verifies an ECDSA P-256 signature.
// publicKeyHex is the uncompressed point (0x04 || X || Y), signatureHex is r || s.
func VerifySignature(publicKeyHex string, data []byte, signatureHex string) bool {
	if publicKeyHex == "" || signatureHex == "" {
		return false
	}

	publicKeyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		logger.Debug("Failed to decode public key hex", "error", err)
		return false
	}

	x, y := elliptic.Unmarshal(elliptic.P256(), publicKeyBytes)
	if x == nil {
		logger.Debug("Failed to unmarshal public key")
		return false
	}
	publicKey := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	signatureBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		logger.Debug("Failed to decode signature hex", "error", err)
		return false
	}
	if len(signatureBytes) != 64 {
		logger.Debug("Invalid signature length", "expected", 64, "got", len(signatureBytes))
		return false
	}

	r := new(big.Int).SetBytes(signatureBytes[:32])
	s := new(big.Int).SetBytes(signatureBytes[32:])

	hash := sha256.Sum256(data)
	return ecdsa.Verify(publicKey, hash[:], r, s)
}
