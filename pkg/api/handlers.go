package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ZentaChain/chatguard/pkg/contacts"
	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/guard"
	"github.com/ZentaChain/chatguard/pkg/identity"
	"github.com/ZentaChain/chatguard/pkg/network"
	"github.com/ZentaChain/chatguard/pkg/protocol"
)

// RegisterRequest is the body of POST /api/v1/identity
type RegisterRequest struct {
	LocalID string `json:"localId" binding:"required"`
}

// IdentityResponse describes the local identity; the private key never leaves the node
type IdentityResponse struct {
	Success     bool   `json:"success"`
	PeerID      string `json:"peerId"`
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
}

// HandshakeResponse is the body of GET /api/v1/handshake
type HandshakeResponse struct {
	Success bool   `json:"success"`
	Packet  string `json:"packet"`
	Replies int    `json:"replies,omitempty"`
}

// PacketRequest is the body of POST /api/v1/packets
type PacketRequest struct {
	Packet  string `json:"packet" binding:"required"`
	ReplyTo string `json:"replyTo,omitempty"` // libp2p peer id to deliver the acknowledgment to
}

// PacketResponse reports what handling one inbound packet did
type PacketResponse struct {
	Success   bool   `json:"success"`
	Kind      string `json:"kind"`
	Plaintext string `json:"plaintext,omitempty"`
	Addressed bool   `json:"addressed,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Accepted  bool   `json:"accepted,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
}

// SendRequest is the body of POST /api/v1/messages
type SendRequest struct {
	To        string `json:"to" binding:"required"`
	Text      string `json:"text"`
	DeliverTo string `json:"deliverTo,omitempty"` // libp2p peer id
}

// SendResponse carries the framed message
type SendResponse struct {
	Success   bool   `json:"success"`
	Packet    string `json:"packet"`
	Delivered bool   `json:"delivered,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
}

// ContactInfo is one directory entry with its handshake state
type ContactInfo struct {
	PeerID       string `json:"peerId"`
	PublicKey    string `json:"publicKey,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	LastSeen     int64  `json:"lastSeen"`
	Enabled      bool   `json:"enabled"`
	Acknowledged bool   `json:"acknowledged"`
	State        string `json:"state"`
}

// ContactsResponse lists contacts
type ContactsResponse struct {
	Success  bool          `json:"success"`
	Count    int           `json:"count"`
	Contacts []ContactInfo `json:"contacts"`
}

// EnabledRequest is the body of PUT /api/v1/contacts/:peerId/enabled
type EnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PeerInfo describes a transport peer
type PeerInfo struct {
	PeerID    string    `json:"peerId"`
	Addresses []string  `json:"addresses"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
}

// PeersResponse lists transport peers
type PeersResponse struct {
	Success bool       `json:"success"`
	NodeID  string     `json:"nodeId"`
	Count   int        `json:"count"`
	Peers   []PeerInfo `json:"peers"`
}

// HealthResponse contains node health information
type HealthResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Registered bool   `json:"registered"`
	Transport  bool   `json:"transport"`
	Queued     *int   `json:"queued,omitempty"`
}

// handleRegister handles POST /api/v1/identity
func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	id, err := s.engine.Register(c.Request.Context(), req.LocalID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.writeIdentity(c, id)
}

// handleIdentity handles GET /api/v1/identity
func (s *Server) handleIdentity(c *gin.Context) {
	id, err := s.engine.Identity()
	if err != nil {
		writeError(c, err)
		return
	}
	s.writeIdentity(c, id)
}

func (s *Server) writeIdentity(c *gin.Context, id *identity.Identity) {
	fp, err := id.Fingerprint()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, IdentityResponse{
		Success:     true,
		PeerID:      id.ID,
		PublicKey:   id.PublicKeyPEM,
		Fingerprint: fp,
	})
}

// handleHandshake handles GET /api/v1/handshake[?broadcast=true]
func (s *Server) handleHandshake(c *gin.Context) {
	packet, err := s.engine.Handshake()
	if err != nil {
		writeError(c, err)
		return
	}

	resp := HandshakeResponse{Success: true, Packet: packet}
	if c.Query("broadcast") == "true" && s.transport != nil {
		ctx := c.Request.Context()
		replies, _ := s.transport.Broadcast(ctx, packet)
		for _, reply := range replies {
			if _, err := s.engine.Handle(ctx, reply); err == nil {
				resp.Replies++
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handlePacket handles POST /api/v1/packets
func (s *Server) handlePacket(c *gin.Context) {
	var req PacketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	res, err := s.engine.Handle(ctx, req.Packet)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := PacketResponse{
		Success:   true,
		Kind:      res.Kind.String(),
		Plaintext: string(res.Plaintext),
		Addressed: res.Addressed,
		Reply:     res.Reply,
		Accepted:  res.Accepted,
	}

	if res.Reply != "" && req.ReplyTo != "" && s.transport != nil {
		to, err := peer.Decode(req.ReplyTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid replyTo", Message: err.Error()})
			return
		}
		if _, err := s.transport.Send(ctx, to, res.Reply); err == nil {
			resp.Delivered = true
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleSend handles POST /api/v1/messages
func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	packet, ok, err := s.engine.Send(ctx, req.To, []byte(req.Text))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Unknown recipient",
			Message: "No public key is stored for " + req.To,
			Code:    "unknown_recipient",
		})
		return
	}

	resp := SendResponse{Success: true, Packet: packet}
	if req.DeliverTo != "" && s.transport != nil {
		to, err := peer.Decode(req.DeliverTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid deliverTo", Message: err.Error()})
			return
		}
		_, err = s.transport.Send(ctx, to, packet)
		switch {
		case err == nil:
			resp.Delivered = true
		case errors.Is(err, network.ErrQueued):
			resp.Queued = true
		default:
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Delivery failed", Message: err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleContacts handles GET /api/v1/contacts
func (s *Server) handleContacts(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := s.engine.Directory().List(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	infos := make([]ContactInfo, 0, len(list))
	for i := range list {
		info, err := s.contactInfo(c, &list[i])
		if err != nil {
			writeError(c, err)
			return
		}
		infos = append(infos, info)
	}

	c.JSON(http.StatusOK, ContactsResponse{Success: true, Count: len(infos), Contacts: infos})
}

// handleContact handles GET /api/v1/contacts/:peerId
func (s *Server) handleContact(c *gin.Context) {
	rec, found, err := s.engine.Directory().Get(c.Request.Context(), c.Param("peerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Contact not found", Code: "not_found"})
		return
	}

	info, err := s.contactInfo(c, rec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleSetEnabled handles PUT /api/v1/contacts/:peerId/enabled
func (s *Server) handleSetEnabled(c *gin.Context) {
	var req EnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ok, err := s.engine.Directory().SetEnabled(c.Request.Context(), c.Param("peerId"), *req.Enabled)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Contact not found", Code: "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "enabled": *req.Enabled})
}

func (s *Server) contactInfo(c *gin.Context, rec *contacts.Record) (ContactInfo, error) {
	state, err := s.engine.State(c.Request.Context(), rec.PeerID)
	if err != nil {
		return ContactInfo{}, err
	}
	info := ContactInfo{
		PeerID:       rec.PeerID,
		PublicKey:    rec.PublicKeyPEM,
		LastSeen:     rec.LastSeen,
		Enabled:      rec.Enabled,
		Acknowledged: rec.Acknowledged,
		State:        state.String(),
	}
	if rec.HasKey() {
		if fp, err := crypto.FingerprintPEM(rec.PublicKeyPEM); err == nil {
			info.Fingerprint = fp
		}
	}
	return info, nil
}

// handlePeers handles GET /api/v1/network/peers
func (s *Server) handlePeers(c *gin.Context) {
	if s.transport == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Transport disabled", Code: "no_transport"})
		return
	}

	peers := s.transport.Peers()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		addrs := make([]string, 0, len(p.Addresses))
		for _, a := range p.Addresses {
			addrs = append(addrs, a.String())
		}
		out = append(out, PeerInfo{
			PeerID:    p.ID.String(),
			Addresses: addrs,
			Connected: p.Connected,
			LastSeen:  p.LastSeen,
		})
	}

	c.JSON(http.StatusOK, PeersResponse{
		Success: true,
		NodeID:  s.transport.ID().String(),
		Count:   len(out),
		Peers:   out,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	_, err := s.engine.Identity()
	resp := HealthResponse{
		Success:    true,
		Status:     "healthy",
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Registered: err == nil,
		Transport:  s.transport != nil,
	}

	if s.outbox != nil {
		n, err := s.outbox.QueueSize(c.Request.Context())
		if err != nil {
			resp.Status = "degraded"
			log.Printf("⚠️  Failed to read outbox size: %v", err)
		} else {
			resp.Queued = &n
		}
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps engine errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, guard.ErrDisabled):
		status, code = http.StatusForbidden, "disabled"
	case errors.Is(err, guard.ErrNotRegistered):
		status, code = http.StatusConflict, "not_registered"
	case errors.Is(err, identity.ErrIdentityMismatch):
		status, code = http.StatusConflict, "identity_mismatch"
	case errors.Is(err, protocol.ErrUnknownKind):
		status, code = http.StatusBadRequest, "unknown_kind"
	case errors.Is(err, protocol.ErrMalformedPacket),
		errors.Is(err, protocol.ErrInvalidPeerID),
		errors.Is(err, protocol.ErrInvalidTimestamp):
		status, code = http.StatusBadRequest, "malformed_packet"
	case errors.Is(err, crypto.ErrInvalidKey):
		status, code = http.StatusBadRequest, "invalid_key"
	case errors.Is(err, crypto.ErrDecryptionFailed):
		status, code = http.StatusUnprocessableEntity, "decryption_failed"
	}
	c.JSON(status, ErrorResponse{Error: http.StatusText(status), Message: err.Error(), Code: code})
}
