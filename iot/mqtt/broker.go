package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/google/uuid"

	"github.com/relabs-tech/roost/core/logger"
)

// MessageHandler receives every message published by a device.
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// Broker is the MQTT broker for the ingestion core.
type Broker struct {
	p *plugin
}

// Builder is a builder helper for the Broker
type Builder struct {
	// CACertFile is the file path to the X.509 certificate of the certificate
	// authority. This is mandatory.
	CACertFile string
	// CertFile is the file path to the X.509 certificate file. This is mandatory.
	CertFile string
	// KeyFile is the file path to the X.509 private key file. This is mandatory.
	KeyFile string
	// ListenAddr is the TLS listen address, default ":8883".
	ListenAddr string
}

// plugin is the plugin for GMQTT
type plugin struct {
	tlsln         net.Listener
	tenantIDRwmux sync.RWMutex
	tenantIDs     map[net.Conn]uuid.UUID

	service gmqtt.Server

	handlerMux sync.RWMutex
	handler    MessageHandler
}

// NewBroker returns a new broker. The broker will not actually run until
// you call Run().
func NewBroker(bb *Builder) *Broker {
	if len(bb.CACertFile) == 0 {
		panic("ca-cert file missing")
	}
	if len(bb.CertFile) == 0 {
		panic("cert file missing")
	}
	if len(bb.KeyFile) == 0 {
		panic("key file missing")
	}
	listenAddr := bb.ListenAddr
	if len(listenAddr) == 0 {
		listenAddr = ":8883"
	}

	crt, err := tls.LoadX509KeyPair(bb.CertFile, bb.KeyFile)
	if err != nil {
		panic(err)
	}

	caCert, _ := os.ReadFile(bb.CACertFile)
	caCertPool := x509.NewCertPool()
	ok := caCertPool.AppendCertsFromPEM(caCert)
	logger.Default().Infoln("certs OK =", ok)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{crt},
		ClientCAs:    caCertPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
	tlsln, err := tls.Listen("tcp", listenAddr, tlsConfig)
	if err != nil {
		panic(err)
	}

	return &Broker{
		p: &plugin{
			tlsln:     tlsln,
			tenantIDs: make(map[net.Conn]uuid.UUID),
		},
	}
}

// SetMessageHandler installs the handler that receives every inbound
// message. Must be called before Run().
func (b *Broker) SetMessageHandler(handler MessageHandler) {
	b.p.handlerMux.Lock()
	defer b.p.handlerMux.Unlock()
	b.p.handler = handler
}

// Run is blocking and runs the server. It listens on syscall.SIGTERM for a
// graceful shutdown.
func (b *Broker) Run() {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.p.tlsln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()

	logger.Default().Infoln("broker started")
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	s.Stop(context.Background())
	logger.Default().Infoln("broker stopped")
}

// PublishMessageQ1 publishes an MQTT message with quality level 1
func (b *Broker) PublishMessageQ1(topic string, payload []byte) {
	logger.Default().Debugf("PublishMessageQ1 on %s (%d bytes)", topic, len(payload))
	msg := gmqtt.NewMessage(topic, payload, packets.QOS_1)
	b.p.service.PublishService().Publish(msg)
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	logger.Default().Infoln("load roost ingestion plugin")
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "roost broker" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

func (p *plugin) tenantIDFromConnection(conn net.Conn) uuid.UUID {
	p.tenantIDRwmux.RLock()
	defer p.tenantIDRwmux.RUnlock()
	tenantID := p.tenantIDs[conn]
	return tenantID
}

// OnAcceptWrapper authorizes clients via TLS certificates. The certificate
// common name carries the tenant the device belongs to.
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		tlsConn, ok := conn.(*tls.Conn)
		if ok {
			err := tlsConn.Handshake()
			if err != nil {
				return false
			}
			state := tlsConn.ConnectionState()
			cert := state.VerifiedChains[0][0]
			commonName := cert.Subject.CommonName

			tenantID, err := uuid.Parse(commonName)
			if err != nil {
				logger.Default().Warnln("invalid tenant ID in certificate:", commonName)
				return false
			}

			p.tenantIDRwmux.Lock()
			defer p.tenantIDRwmux.Unlock()
			p.tenantIDs[conn] = tenantID
			logger.Default().Infoln("accept", commonName)
		}
		return accept(ctx, conn)
	}
}

// OnConnectWrapper enforces that the MQTT client belongs to the tenant named
// in its certificate
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		tenantID := p.tenantIDFromConnection(client.Connection())
		if tenantID == uuid.Nil {
			logger.Default().Warnln("connect denied,", client.OptionsReader().ClientID(), "not authorized")
			return packets.CodeNotAuthorized
		}
		logger.Default().Infoln("connect", client.OptionsReader().ClientID(), "tenant", tenantID)
		return connect(ctx, client)
	}
}

// OnSubscribeWrapper enforces topic policy: a device may only subscribe
// below its own tenant root.
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		tenantID := p.tenantIDFromConnection(client.Connection())
		if !strings.HasPrefix(topic.Name, "/"+tenantID.String()+"/") {
			logger.Default().Warnln("OnSubscribe", tenantID, topic.Name, "denied!")
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

// OnMsgArrivedWrapper hands every inbound message to the ingestion router.
// The router processes asynchronously, the broker is never blocked on
// persistence.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		tenantID := p.tenantIDFromConnection(client.Connection())
		topic := msg.Topic()
		if !strings.HasPrefix(topic, "/"+tenantID.String()+"/") {
			logger.Default().Warnln("publish outside tenant root denied:", topic)
			return false
		}

		p.handlerMux.RLock()
		handler := p.handler
		p.handlerMux.RUnlock()
		if handler != nil {
			handler.HandleMessage(topic, msg.Payload())
		}
		return arrived(ctx, client, msg)
	}
}
