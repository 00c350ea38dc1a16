package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/gps.report/internal/api"
	"github.com/banshee-data/gps.report/internal/capture"
	"github.com/banshee-data/gps.report/internal/gpsmux"
	"github.com/banshee-data/gps.report/internal/overlay"
	"github.com/banshee-data/gps.report/internal/timeutil"
	"github.com/banshee-data/gps.report/internal/track"
	"github.com/banshee-data/gps.report/internal/units"
	"github.com/banshee-data/gps.report/internal/version"
)

var (
	devMode      = flag.Bool("dev", false, "Run in dev mode with a synthetic position source")
	listen       = flag.String("listen", ":8080", "Listen address")
	devicePath   = flag.String("device", "/dev/ttyACM0", "GPS serial device path")
	baudRate     = flag.Int("baud", 9600, "GPS serial baud rate")
	displayUnits = flag.String("units", units.MPH, "Display units (mps, mph, kmph, kph)")
	fixtureFile  = flag.String("fixtures", "", "Replay NMEA sentences from a file instead of a device")
	fixInterval  = flag.Duration("fix-interval", time.Second, "Synthetic and replay fix cadence")
)

// positionMux is the slice of the mux the main wiring needs, so real,
// replay and synthetic sources interchange freely.
type positionMux interface {
	gpsmux.Source
	Monitor(ctx context.Context) error
	Close() error
}

func openSource() (positionMux, error) {
	if *fixtureFile != "" {
		data, err := os.ReadFile(*fixtureFile)
		if err != nil {
			return nil, err
		}
		return gpsmux.NewMockMux(data, *fixInterval), nil
	}
	if *devMode {
		m, _ := gpsmux.NewSyntheticMux(timeutil.RealClock{}, *fixInterval)
		return m, nil
	}
	return gpsmux.NewRealMux(*devicePath, gpsmux.PortOptions{BaudRate: *baudRate})
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*displayUnits) {
		log.Fatalf("Invalid units %q (must be one of %s)", *displayUnits, units.GetValidUnitsString())
	}

	log.Printf("gps.report %s (%s)", version.Version, version.GitSHA)

	m, err := openSource()
	if err != nil {
		log.Fatalf("failed to open position source: %v", err)
	}
	defer m.Close()

	renderer, err := overlay.NewRenderer()
	if err != nil {
		log.Fatalf("failed to initialise overlay renderer: %v", err)
	}

	session := track.NewSession(m)
	controller := capture.NewController(&capture.SyntheticDevice{}, renderer, session)
	if err := controller.SetUnit(*displayUnits); err != nil {
		log.Fatalf("failed to set display units: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the GPS source
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor position source: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(session, controller, *displayUnits).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	session.Stop()
	controller.StopCamera()
	log.Printf("Graceful shutdown complete")
}
