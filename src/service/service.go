// Package service exposes a node's state over HTTP.
package service

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/tanglesync/src/node"
	"github.com/mosaicnetworks/tanglesync/src/tangle"
	"github.com/mosaicnetworks/tanglesync/src/telemetry"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.handle("/stats", s.GetStats)
	s.handle("/status", s.GetStatus)
	s.handle("/peers", s.GetPeers)
	s.handle("/message/", s.GetMessage)
	s.handle("/milestone/", s.GetMilestone)
	s.mux.Handle("/metrics", telemetry.MetricsHandler())
}

func (s *Service) handle(path string, fn func(http.ResponseWriter, *http.Request)) {
	s.mux.Handle(path, telemetry.Instrument(path, s.makeHandler(fn)))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetStatus returns the latest and solid milestone indexes.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.Tangle().SyncStatus())
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetPeers())
}

// MessageInfo is the JSON view of a message.
type MessageInfo struct {
	ID        string            `json:"id"`
	Parents   []string          `json:"parents"`
	Milestone *tangle.Milestone `json:"milestone,omitempty"`
	Data      string            `json:"data"`
	Nonce     uint64            `json:"nonce"`
	Arrival   int64             `json:"arrival,omitempty"`
}

func newMessageInfo(id tangle.MessageID, m *tangle.Message, meta tangle.Metadata) MessageInfo {
	parents := make([]string, len(m.Parents))
	for i, p := range m.Parents {
		parents[i] = p.String()
	}
	return MessageInfo{
		ID:        id.String(),
		Parents:   parents,
		Milestone: m.Milestone,
		Data:      hex.EncodeToString(m.Data),
		Nonce:     m.Nonce,
		Arrival:   meta.ArrivalTime,
	}
}

// GetMessage ...
func (s *Service) GetMessage(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/message/"):]

	id, err := tangle.MessageIDFromHex(param)
	if err != nil {
		s.logger.WithError(err).Debugf("Parsing message id %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, ok := s.node.Tangle().Get(id)
	if !ok {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}

	meta, _ := s.node.Tangle().Metadata(id)

	writeJSON(w, newMessageInfo(id, m, meta))
}

// GetMilestone ...
func (s *Service) GetMilestone(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/milestone/"):]

	index, err := strconv.ParseUint(param, 10, 32)
	if err != nil {
		s.logger.WithError(err).Debugf("Parsing milestone index %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, ok := s.node.Tangle().MilestoneMessage(tangle.MilestoneIndex(index))
	if !ok {
		http.Error(w, "milestone not found", http.StatusNotFound)
		return
	}

	id, _ := m.ID()
	meta, _ := s.node.Tangle().Metadata(id)

	writeJSON(w, newMessageInfo(id, m, meta))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(v)
}
