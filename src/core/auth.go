package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Node authentication header names
const (
	NodeSignatureHeader = "X-Node-Signature"
	NodeTimestampHeader = "X-Node-Timestamp"
)

// NodeAuthTimestampTolerance is the maximum clock skew of a signed request
const NodeAuthTimestampTolerance = 5 * time.Minute

// SignRequest creates an HMAC-SHA256 signature over method, path, body and timestamp
func SignRequest(method, path string, body []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s\n%s\n", method, path)
	mac.Write(body)
	fmt.Fprintf(mac, "\n%d", timestamp)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyRequest checks the signature and rejects timestamps outside the tolerance
func VerifyRequest(method, path string, body []byte, secret string, timestamp int64, signature string, now time.Time) bool {
	tolerance := int64(NodeAuthTimestampTolerance.Seconds())
	if timestamp < now.Unix()-tolerance || timestamp > now.Unix()+tolerance {
		return false
	}

	expected := SignRequest(method, path, body, secret, timestamp)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// readAndRestoreBody reads the request body and replaces it so handlers can decode it again
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
