// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the map page.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// WebSocketHandler classifies the connecting peer, upgrades the connection,
// and registers the resulting client with the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	peerRole := s.classifier.Classify(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, peerRole, s.cfg)

	// The hub launches the pump goroutines once the client is registered.
	if err := s.hub.Register(client); err != nil {
		client.logger.Warn("Rejecting connection", zap.Error(err))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "sofa relay is running!")
}

// IndexHandler serves index.html from the static directory, or the built-in
// map page when the directory has none.
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(s.cfg.StaticDir, "index.html")
	if _, err := os.Stat(index); err == nil {
		http.ServeFile(w, r, index)
		return
	} else if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Cannot stat index page", zap.String("path", index), zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, mapPage); err != nil {
		s.logger.Warn("Error writing HTML response", zap.Error(err))
	}
}

// mapPage is a bare client for the relay: pages opened from the admin host
// share the sofa position, every other page reports as a scooter.
const mapPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Sofa Relay</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1 id="title">Sofa Relay</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div id="events"></div>

    <script>
        const isAdmin = location.hostname.includes('localhost');
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        document.getElementById('title').textContent = isAdmin ? 'Sofa Relay (admin)' : 'Sofa Relay (delivery)';

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(scheme + location.host + '/ws' + location.search);

        ws.onopen = function() {
            statusDiv.textContent = 'Connected';
            statusDiv.className = 'status connected';
            if (!navigator.geolocation) {
                log('geolocation unavailable');
                return;
            }
            navigator.geolocation.watchPosition(function(p) {
                const pos = { lat: p.coords.latitude, lng: p.coords.longitude };
                ws.send(JSON.stringify({ event: isAdmin ? 'admin-location' : 'scooter-location', data: pos }));
            }, function(err) { log('geolocation error: ' + err.message); }, { enableHighAccuracy: true });
        };

        ws.onmessage = function(event) {
            const msg = JSON.parse(event.data);
            log(msg.event + ' ' + JSON.stringify(msg.data));
        };

        ws.onclose = function() {
            statusDiv.textContent = 'Disconnected';
            statusDiv.className = 'status disconnected';
        };
    </script>
</body>
</html>`
