package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"artnet2dmx/internal/artnet"
	"artnet2dmx/internal/config"
	"artnet2dmx/internal/gateway"
	"artnet2dmx/internal/logger"
	"artnet2dmx/internal/mqttpub"
	"artnet2dmx/internal/rdm"
	"artnet2dmx/internal/rs485"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	bus, err := rs485.Open(rs485.Config{Device: cfg.Serial.Device, Baud: cfg.Serial.Baud}, log)
	if err != nil {
		log.Module("rs485").Errorf("error opening the serial bus: %v", err)
		os.Exit(1)
	}
	log.Module("rs485").Debugf("bus open on %s", cfg.Serial.Device)

	// Channel delivering TOD snapshots to the MQTT publisher.
	todCh := make(chan []rdm.UID, 4)

	gw := gateway.New(bus, ConvertConfigGateway(cfg), todCh, log)
	log.Module("gateway").Debug("gateway created ok")

	node := artnet.NewServer(gw, ConvertConfigArtNet(cfg.ArtNet), log)
	log.Module("artnet").Debug("node created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	// The node registers the RDM response route, so it starts first.
	if err = node.Start(ctx); err != nil {
		log.Error("failed to start Art-Net node:", err.Error())
		cancel()
	}

	if err = gw.Start(ctx); err != nil {
		log.Error("failed to start gateway:", err.Error())
		cancel()
	}

	var pub *mqttpub.Publisher
	if cfg.MQTT.Enabled {
		pub = mqttpub.NewPublisher(ConvertConfigMQTT(cfg.MQTT), log)
		if err = pub.Start(ctx, todCh); err != nil {
			log.Error("failed to start MQTT publisher:", err.Error())
			cancel()
		}
	}

	<-ctx.Done()

	if pub != nil {
		if err := pub.Stop(); err != nil {
			log.Error("failed to stop MQTT publisher:", err.Error())
		}
	}

	node.Stop()
	gw.Stop()
	if err := bus.Close(); err != nil {
		log.Error("failed to close serial bus:", err.Error())
	}

	close(todCh)

	log.Info("shutdown complete")
}

// ConvertConfigGateway maps the configuration file onto the core tuning.
func ConvertConfigGateway(cfg *config.Config) gateway.Config {
	return gateway.Config{
		DMXRate: cfg.DMX.Rate,
		Engine: rdm.EngineConfig{
			ResponseTimeout: time.Duration(cfg.RDM.TimeoutMs) * time.Millisecond,
			Retries:         cfg.RDM.Retries,
		},
		Discovery: rdm.DiscoveryConfig{
			Interval:     time.Duration(cfg.RDM.DiscoveryIntervalMs) * time.Millisecond,
			ProbeTimeout: time.Duration(cfg.RDM.ProbeTimeoutMs) * time.Millisecond,
		},
	}
}

// ConvertConfigArtNet maps the node identity section.
func ConvertConfigArtNet(cfg config.ArtNetConf) artnet.Config {
	return artnet.Config{
		Network:   cfg.Network,
		Universe:  cfg.Universe,
		ShortName: cfg.ShortName,
		LongName:  cfg.LongName,
	}
}

// ConvertConfigMQTT maps the publisher section.
func ConvertConfigMQTT(cfg config.MQTTConf) mqttpub.Conf {
	return mqttpub.Conf{
		ClientID: cfg.ClientID,
		Schema:   "tcp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Topic:    cfg.Topic,
	}
}
