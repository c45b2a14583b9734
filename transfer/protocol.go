package transfer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ProtocolID names the on-demand request/response stream protocol, run
// over a direct libp2p stream rather than the broadcast topic.
const ProtocolID protocol.ID = "/atlassync/fetch/1.0.0"

// Request asks for the file at Name, a path relative to the watched root.
type Request struct {
	Name string `json:"name"`
}

// writeFrame writes a 4-byte big-endian length prefix followed by the
// JSON encoding of v.
func writeFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

// readFrame reads a 4-byte big-endian length prefix and decodes the
// following bytes as JSON into v.
func readFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return errors.Wrap(err, "read frame header")
	}
	n := binary.BigEndian.Uint32(header[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return errors.Wrap(err, "read frame body")
	}
	return json.Unmarshal(body, v)
}

// FileSource resolves a relative path to its absolute location on disk,
// for the Responder to read when answering a Request.
type FileSource func(relativePath string) (absPath string, err error)

// RegisterResponder attaches the fetch protocol handler to h: for every
// incoming stream, it reads a Request, resolves it via resolve, and
// writes back a FileBlob response.
func RegisterResponder(h host.Host, resolve FileSource) {
	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		defer func() { _ = s.Close() }()
		var req Request
		if err := readFrame(s, &req); err != nil {
			log.WithError(err).Debug("fetch responder: could not read request")
			return
		}
		absPath, err := resolve(req.Name)
		if err != nil {
			log.WithError(err).WithField("name", req.Name).Debug("fetch responder: could not resolve path")
			return
		}
		blob, err := NewFileBlob(absPath, req.Name)
		if err != nil {
			log.WithError(err).WithField("name", req.Name).Warn("fetch responder: could not read file")
			return
		}
		if err := writeFrame(s, blob); err != nil {
			log.WithError(err).Debug("fetch responder: could not write response")
		}
	})
}

// Fetch opens a stream to peerID and requests relativePath, returning the
// FileBlob the peer responds with.
func Fetch(ctx context.Context, h host.Host, peerID peer.ID, relativePath string) (FileBlob, error) {
	s, err := h.NewStream(ctx, peerID, ProtocolID)
	if err != nil {
		return FileBlob{}, errors.Wrapf(err, "open fetch stream to %s", peerID)
	}
	defer func() { _ = s.Close() }()

	if err := writeFrame(s, Request{Name: relativePath}); err != nil {
		return FileBlob{}, err
	}
	var blob FileBlob
	if err := readFrame(s, &blob); err != nil {
		return FileBlob{}, errors.Wrapf(err, "read fetch response for %q", relativePath)
	}
	return blob, nil
}
