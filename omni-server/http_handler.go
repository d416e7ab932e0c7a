package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/AbyelT/omnipaxos"
	kv "github.com/AbyelT/omnipaxos/kv-store"
)

type CommandRequest struct {
	Kind  string `json:"kind"` // "set" or "delete"
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type ReconfigureRequest struct {
	Peers []PeerConfig `json:"peers"`
}

type GetResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type HTTPHandler struct {
	node *Node
	log  logrus.FieldLogger
}

func NewHTTPHandler(node *Node, logger *logrus.Logger) *HTTPHandler {
	return &HTTPHandler{
		node: node,
		log:  logger.WithField("component", "http"),
	}
}

func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/message", h.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/command", h.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/reconfigure", h.handleReconfigure).Methods(http.MethodPost)
	r.HandleFunc("/keys/{key}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var m omnipaxos.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.node.HandleMessage(m); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleCommand(w http.ResponseWriter, r *http.Request) {
	var requestID = uuid.NewString()

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var cmd = kv.Command{Key: req.Key, Value: req.Value}
	switch req.Kind {
	case "set":
		cmd.Kind = kv.CmdSet
	case "delete":
		cmd.Kind = kv.CmdDelete
	default:
		http.Error(w, "kind must be \"set\" or \"delete\"", http.StatusBadRequest)
		return
	}

	if err := h.node.HandleCommand(cmd); err != nil {
		h.log.WithError(err).WithField("request_id", requestID).Info("command rejected")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	h.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"kind":       req.Kind,
		"key":        req.Key,
	}).Debug("command accepted")

	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var req ReconfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.node.HandleReconfigure(req.Peers); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, ok := h.node.Get(key)
	if !ok {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(GetResponse{Key: key, Value: value}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.node.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
