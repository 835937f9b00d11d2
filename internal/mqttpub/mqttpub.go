// Package mqttpub publishes the Table of Devices to an MQTT broker whenever
// a discovery cycle changes it. The publisher is optional; lighting consoles
// speak Art-Net directly, MQTT serves dashboards and home-automation
// integrations.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"artnet2dmx/internal/logger"
	"artnet2dmx/internal/rdm"
)

// Conf configures the broker connection.
type Conf struct {
	ClientID string
	Schema   string
	Host     string
	Port     string
	User     string
	Password string
	Topic    string
}

// Publisher forwards TOD snapshots to the broker.
type Publisher struct {
	log    *logger.Log
	cfg    Conf
	client mqtt.Client
}

// NewPublisher builds an unconnected publisher.
func NewPublisher(cfg Conf, log *logger.Log) *Publisher {
	if cfg.Schema == "" {
		cfg.Schema = "tcp"
	}
	return &Publisher{log: log, cfg: cfg}
}

// Start connects to the broker and consumes TOD snapshots from todCh until
// the context is cancelled.
func (p *Publisher) Start(ctx context.Context, todCh <-chan []rdm.UID) error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", p.cfg.Schema, p.cfg.Host, p.cfg.Port)).
		SetUsername(p.cfg.User).
		SetPassword(p.cfg.Password).
		SetOnConnectHandler(p.connectHandler).
		SetConnectionLostHandler(p.connectLostHandler).
		SetClientID(p.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-ctx.Done():
		return errors.New("context canceled")
	}

	go p.consume(ctx, todCh)

	p.log.Module("mqtt").Infof("connected: %v", p.client.IsConnected())
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(500)
	}
	return nil
}

func (p *Publisher) connectHandler(_ mqtt.Client) {
	p.log.Module("mqtt").Info("client connected to server")
}

func (p *Publisher) connectLostHandler(_ mqtt.Client, err error) {
	p.log.Module("mqtt").Errorf("server connect lost: %v", err)
}

func (p *Publisher) consume(ctx context.Context, todCh <-chan []rdm.UID) {
	for {
		select {
		case <-ctx.Done():
			return
		case uids, ok := <-todCh:
			if !ok {
				return
			}
			p.publishTOD(uids)
		}
	}
}

// publishTOD sends the device list as a JSON array of UID strings.
func (p *Publisher) publishTOD(uids []rdm.UID) {
	list := make([]string, len(uids))
	for i, u := range uids {
		list[i] = u.String()
	}
	msg, err := json.Marshal(list)
	if err != nil {
		p.log.Module("mqtt").Errorf("TOD marshal failed: %v", err)
		return
	}

	token := p.client.Publish(p.cfg.Topic, 0, true, msg)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			p.log.Module("mqtt").Errorf("error publishing to %s: %v", p.cfg.Topic, token.Error())
			return
		}
		p.log.Module("mqtt").Debugf("published %d device(s) to %s", len(list), p.cfg.Topic)
	}()
}
