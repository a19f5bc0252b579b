// The droneserver binary accepts flight commands over TCP and drives the
// vehicle through the configured link.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/command"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/config"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/mission"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/server"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/telemetry"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle/mavlink"
	"github.com/orcishprogramming/Tuwaiq-drones-project/internal/vehicle/sim"
)

var (
	defaultFlagSet = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath     = defaultFlagSet.String("config", "", "Path to a yaml config file")
	listenAddress  = defaultFlagSet.String("listen", "", "TCP listen address (overrides config)")
	vehicleAddress = defaultFlagSet.String("vehicle", "", "Vehicle link address, e.g. udp://:14540 (overrides config)")
	deviceID       = defaultFlagSet.String("device_id", "", "Device id used in control events (overrides config)")
	mqttBroker     = defaultFlagSet.String("mqtt_broker", "", "MQTT broker for control events (overrides config)")
	simulate       = defaultFlagSet.Bool("sim", false, "Fly an in-process simulated vehicle instead of a MAVLink one")
)

func main() {
	defaultFlagSet.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *listenAddress != "" {
		cfg.ListenAddress = *listenAddress
	}
	if *vehicleAddress != "" {
		cfg.VehicleAddress = *vehicleAddress
	}
	if *deviceID != "" {
		cfg.DeviceID = *deviceID
	}
	if *mqttBroker != "" {
		cfg.MQTTBroker = *mqttBroker
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	ctx, quitFunc := context.WithCancel(context.Background())
	defer quitFunc()

	var link vehicle.Link
	if *simulate {
		log.Printf("Flying the built-in simulated vehicle")
		link = sim.New()
	} else {
		log.Printf("Connecting to vehicle via: %s", cfg.VehicleAddress)
		link = mavlink.New(cfg.VehicleAddress)
	}

	var events *telemetry.Publisher
	if cfg.MQTTBroker != "" {
		client, err := telemetry.NewMQTTClient(cfg.MQTTBroker, cfg.DeviceID)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer client.Disconnect(1000)
		events = telemetry.NewPublisher(client, cfg.DeviceID)
	}

	state := vehicle.NewFlightState()
	timings := command.DefaultTimings()
	timings.HomeFetch = time.Duration(cfg.HomeTimeoutS) * time.Second

	patrol := mission.Params{
		AltitudeM: cfg.Patrol.AltitudeM,
		SideM:     cfg.Patrol.SideM,
		SpeedMps:  cfg.Patrol.SpeedMps,
	}

	handler := command.NewHandler(link, state, patrol, events, timings)
	srv := server.New(server.Config{
		ListenAddress:  cfg.ListenAddress,
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutS) * time.Second,
		HealthTimeout:  time.Duration(cfg.HealthTimeoutS) * time.Second,
	}, link, handler)

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Run(ctx) }()

	select {
	case <-terminationSignals:
		log.Printf("Shutting down..")
		quitFunc()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}

	log.Printf("Signing off - BYE")
}
