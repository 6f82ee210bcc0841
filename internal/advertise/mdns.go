// internal/advertise/mdns.go
package advertise

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/message"
)

// ErrAlreadyAdvertising is returned by Start on a running advertiser
var ErrAlreadyAdvertising = errors.New("already advertising")

const defaultDomain = "local."

// server is the part of a zeroconf registration the advertiser keeps
type server interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string) (server, error)

func zeroconfRegister(instance, service, domain string, port int, text []string) (server, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

// Advertiser announces the WebSocket endpoint over mDNS
type Advertiser struct {
	config   *config.AdvertiseConfig
	app      *config.AppConfig
	port     int
	register registerFunc
	logger   *zap.Logger

	mu      sync.Mutex
	server  server
	devices int
}

// NewAdvertiser creates an advertiser for the server listening on port
func NewAdvertiser(cfg *config.AdvertiseConfig, app *config.AppConfig, port string, logger *zap.Logger) (*Advertiser, error) {
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return nil, fmt.Errorf("invalid advertise port %q", port)
	}
	return &Advertiser{
		config:   cfg,
		app:      app,
		port:     p,
		register: zeroconfRegister,
		logger:   logger.With(zap.String("component", "advertiser")),
	}, nil
}

// Instance returns the advertised instance name
func (a *Advertiser) Instance() string {
	if a.config.Instance != "" {
		return a.config.Instance
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return a.app.Name + "-" + host
	}
	return a.app.Name
}

func (a *Advertiser) text() []string {
	return []string{
		"path=/ws",
		"version=" + a.app.Version,
		"message_version=" + strconv.Itoa(int(message.CurrentVersion)),
		"devices=" + strconv.Itoa(a.devices),
	}
}

// Start registers the service
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return ErrAlreadyAdvertising
	}

	domain := a.config.Domain
	if domain == "" {
		domain = defaultDomain
	}

	srv, err := a.register(a.Instance(), a.config.Service, domain, a.port, a.text())
	if err != nil {
		return fmt.Errorf("failed to register mdns service: %w", err)
	}
	a.server = srv

	a.logger.Info("Advertising service",
		zap.String("instance", a.Instance()),
		zap.String("service", a.config.Service),
		zap.Int("port", a.port),
	)
	return nil
}

// SetDeviceCount updates the devices TXT record
func (a *Advertiser) SetDeviceCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.devices == n {
		return
	}
	a.devices = n
	if a.server != nil {
		a.server.SetText(a.text())
	}
}

// Stop withdraws the service
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("Stopped advertising service")
}
