package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/node"
	"github.com/rcenet/rce/src/routing"
	"github.com/sirupsen/logrus"
)

// Service exposes the state of a node over HTTP, in JSON.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService creates a Service for the node. Nothing is served until Serve is
// called.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:    bindAddress,
		Handler: service.mux,
	}

	return &service
}

// registerHandlers registers the API handlers with the mux of the service.
// Every node has its own mux, so that several nodes can run in one process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering RCE API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/channels", s.makeHandler(s.GetChannels))
	s.mux.HandleFunc("/topology", s.makeHandler(s.GetTopology))
	s.mux.HandleFunc("/properties", s.makeHandler(s.GetProperties))
	s.mux.HandleFunc("/route/", s.makeHandler(s.GetRoute))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))

	if m := s.node.Metrics(); m != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}
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

// Serve calls ListenAndServe. This is a blocking call which returns once
// Shutdown is called.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving RCE API")

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Shutdown stops the server.
func (s *Service) Shutdown() {
	if err := s.server.Close(); err != nil {
		s.logger.WithError(err).Debug("Error closing API server")
	}
}

// GetStats returns the stats of the node.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// ChannelInfo describes an established channel.
type ChannelInfo struct {
	ID         string
	Remote     string
	RemoteName string
	State      string
}

// GetChannels lists the established channels of the node.
func (s *Service) GetChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.node.Registry().Channels()

	res := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		res = append(res, ChannelInfo{
			ID:         ch.ChannelID(),
			Remote:     ch.RemoteNodeID().RawID(),
			RemoteName: identity.Names.DisplayName(ch.RemoteNodeID().InstanceNodeID()),
			State:      ch.State().String(),
		})
	}

	writeJSON(w, res)
}

// EdgeInfo is a directed link of the topology.
type EdgeInfo struct {
	From    string
	To      string
	Channel string
	Weight  int
}

// TopologyInfo is the topology known to the node.
type TopologyInfo struct {
	Local     string
	State     string
	Nodes     []string
	Reachable []string
	Edges     []EdgeInfo
}

// GetTopology returns the raw graph of the node, with the reachable nodes.
func (s *Service) GetTopology(w http.ResponseWriter, r *http.Request) {
	raw := s.node.Routing().RawGraph()
	reachable := s.node.Routing().ReachableGraph()

	res := TopologyInfo{
		Local:     raw.Local().RawID(),
		State:     s.node.Routing().State().String(),
		Nodes:     rawIDs(raw.Nodes()),
		Reachable: rawIDs(reachable.Nodes()),
		Edges:     []EdgeInfo{},
	}
	for _, e := range raw.Edges() {
		res.Edges = append(res.Edges, EdgeInfo{
			From:    e.From.RawID(),
			To:      e.To.RawID(),
			Channel: e.ChannelID,
			Weight:  e.Weight,
		})
	}

	writeJSON(w, res)
}

// PropertyInfo is a property published by a node.
type PropertyInfo struct {
	Publisher string
	Key       string
	Value     string
	Sequence  int64
}

// GetProperties returns the known properties, restricted to those published
// under the "key" query parameter if present.
func (s *Service) GetProperties(w http.ResponseWriter, r *http.Request) {
	props := s.node.Properties().Store().ByKey(r.URL.Query().Get("key"))

	res := make([]PropertyInfo, 0, len(props))
	for _, p := range props {
		res = append(res, PropertyInfo{
			Publisher: p.Publisher.RawID(),
			Key:       p.Key,
			Value:     p.Value,
			Sequence:  p.Sequence,
		})
	}

	writeJSON(w, res)
}

// HopInfo is a step of a route.
type HopInfo struct {
	Channel string
	Node    string
}

// RouteInfo is the route to a node.
type RouteInfo struct {
	Destination string
	Cost        int
	Hops        []HopInfo
}

// GetRoute returns the current route to the node whose session id follows
// /route/.
func (s *Service) GetRoute(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/route/"):]

	dest, err := identity.ParseInstanceNodeSessionID(param)
	if err != nil {
		s.logger.WithError(err).Debugf("Parsing node parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	route, err := s.node.Routing().GetRouteTo(dest)
	if err != nil {
		status := http.StatusInternalServerError
		if routing.IsNoRouteFound(err) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	res := RouteInfo{
		Destination: route.Destination.RawID(),
		Cost:        route.Cost,
		Hops:        []HopInfo{},
	}
	for _, h := range route.Hops {
		res.Hops = append(res.Hops, HopInfo{
			Channel: h.ChannelID,
			Node:    h.Node.RawID(),
		})
	}

	writeJSON(w, res)
}

// GetPeers returns the configured neighbours.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetPeers())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(v)
}

func rawIDs(ids []identity.InstanceNodeSessionID) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, id.RawID())
	}
	return res
}
