package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/brojonat/solvision/service/explorer"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRCodeSize = 256
	minQRCodeSize     = 64
	maxQRCodeSize     = 1024
)

// addressURL returns the Solana Pay style URL wallet apps open for address.
func addressURL(address string) string {
	u := url.URL{Scheme: "solana", Opaque: address}
	return u.String()
}

// generateQRCode creates a QR code image for data and returns it as PNG.
func generateQRCode(data string, size int) ([]byte, error) {
	// Generate QR code with medium error correction
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}
	return png, nil
}

// handleNodeQRCode returns a handler that renders a node's address as a QR code so the analyst
// can carry it to a wallet app.
// GET /api/v1/sessions/{id}/nodes/{node}/qr[?size=256]
func handleNodeQRCode(sessions *SessionRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		size := defaultQRCodeSize
		if s := r.URL.Query().Get("size"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < minQRCodeSize || n > maxQRCodeSize {
				writeError(w, fmt.Sprintf("size must be between %d and %d", minQRCodeSize, maxQRCodeSize), http.StatusBadRequest)
				return
			}
			size = n
		}

		snap := session.Controller.Snapshot()
		if snap.Graph == nil {
			writeError(w, explorer.ErrNotReady.Error(), http.StatusConflict)
			return
		}

		node, ok := snap.Graph.Node(r.PathValue("node"))
		if !ok {
			writeError(w, explorer.ErrUnknownNode.Error(), http.StatusNotFound)
			return
		}

		png, err := generateQRCode(addressURL(node.ID), size)
		if err != nil {
			writeError(w, "failed to generate QR code", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	})
}
