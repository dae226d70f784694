package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/radiosonde-watch/autorx/internal/decode"
	"github.com/radiosonde-watch/autorx/internal/delivery"
	"github.com/radiosonde-watch/autorx/internal/delivery/aprs"
	"github.com/radiosonde-watch/autorx/internal/delivery/habitat"
	"github.com/radiosonde-watch/autorx/internal/delivery/ozi"
	"github.com/radiosonde-watch/autorx/internal/scan"
	"github.com/radiosonde-watch/autorx/internal/scheduler"
	"github.com/radiosonde-watch/autorx/internal/sdr"
	"github.com/radiosonde-watch/autorx/internal/spectrum"
	"github.com/radiosonde-watch/autorx/internal/storage"
)

const (
	storageDir    = "data"
	queueCapacity = 256
)

// decoderFactory adapts the decode session factory to the scheduler.
type decoderFactory struct {
	factory *decode.Factory
}

func (d decoderFactory) Start(ctx context.Context, frequencyHz int64, rx *sdr.Receiver) (scheduler.DecodeHandle, error) {
	session, err := d.factory.Start(ctx, frequencyHz, rx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Run wires the application together and blocks until the context is
// cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	pool, err := createPool(config.Receivers)
	if err != nil {
		return fmt.Errorf("failed to create receiver pool: %w", err)
	}

	// Fixed-frequency mode never sweeps, so the scan tooling is only
	// required when searching.
	var sweeper scheduler.Sweeper
	var finder scheduler.CandidateFinder
	if len(config.Scheduler.FixedFrequencies) == 0 {
		scanner, err := scan.New(scan.Config{
			FrequencyStart: config.Search.FrequencyStart,
			FrequencyEnd:   config.Search.FrequencyEnd,
			BinWidth:       config.Search.BinWidth,
			Interval:       config.Search.Interval.Duration(),
			Crop:           config.Search.Crop,
		}, scan.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create scanner: %w", err)
		}
		sweeper = scanner

		detector, err := spectrum.NewDetector(config.Search.MinSNR, config.Search.MinDistance, config.Search.Quantization)
		if err != nil {
			return fmt.Errorf("failed to create peak detector: %w", err)
		}
		finder = detector
	}

	factory, err := decode.NewFactory(decode.Config{
		Command:    config.Decoder.Command,
		SampleRate: config.Decoder.SampleRate,
		Grace:      config.Decoder.Grace.Duration(),
	}, decode.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create decoder factory: %w", err)
	}

	queue := delivery.NewQueue()

	runners, err := createRunners(config, queue, logger)
	if err != nil {
		return fmt.Errorf("failed to create uploaders: %w", err)
	}

	options := []func(*scheduler.Manager){scheduler.WithLogger(logger)}

	var store *storage.Store
	if config.Storage.Enabled {
		if store, err = createStorage(&config.Storage); err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()

		options = append(options, scheduler.WithRecorder(store))
	}

	manager, err := scheduler.New(scheduler.Config{
		SearchAttempts:   config.Scheduler.SearchAttempts,
		SearchDelay:      config.Scheduler.SearchDelay.Duration(),
		NoDataInterval:   config.Scheduler.NoDataInterval.Duration(),
		RxTimeout:        config.Scheduler.RxTimeout.Duration(),
		MaxRetries:       config.Scheduler.MaxRetries,
		MaxDecodeCycles:  config.Scheduler.MaxDecodeCycles,
		StarvationCycles: config.Scheduler.StarvationCycles,
		TickInterval:     config.Scheduler.TickInterval.Duration(),
		FixedFrequencies: config.Scheduler.FixedFrequencies,
	}, pool, sweeper, finder, decoderFactory{factory}, queue, options...)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *delivery.Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(fmt.Sprintf("uploader stopped: %s", err.Error()))
			}
		}(r)
	}

	err = manager.Run(ctx)
	wg.Wait()

	return err
}

func createPool(config []ReceiverConfig) (*sdr.Pool, error) {
	var receivers []*sdr.Receiver
	for _, rc := range config {
		receivers = append(receivers, sdr.NewReceiver(rc.Index,
			sdr.WithSerial(rc.Serial),
			sdr.WithGain(rc.Gain),
			sdr.WithPPM(rc.PPM),
			sdr.WithBiasTee(rc.BiasTee)))
	}

	return sdr.NewPool(receivers...)
}

func createRunners(config *Config, queue *delivery.Queue, logger *slog.Logger) ([]*delivery.Runner, error) {
	var runners []*delivery.Runner

	if config.Uploaders.APRS.Enabled {
		uploader, err := aprs.New(aprs.Config{
			Server:   config.Uploaders.APRS.Server,
			Callsign: config.Uploaders.APRS.Callsign,
			Passcode: config.Uploaders.APRS.Passcode,
			Comment:  config.Uploaders.APRS.Comment,
		}, aprs.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		sub, err := queue.Subscribe(uploader.Name(), queueCapacity)
		if err != nil {
			return nil, err
		}

		runners = append(runners, delivery.NewRunner(delivery.RunnerConfig{
			Rate:       config.Uploaders.APRS.Rate.Duration(),
			KeepLatest: true,
		}, sub, uploader, delivery.WithRunnerLogger(logger)))
	}

	if config.Uploaders.Habitat.Enabled {
		uploader, err := habitat.New(habitat.Config{
			URL:      config.Uploaders.Habitat.URL,
			Callsign: config.Station.Callsign,
			Antenna:  config.Station.Antenna,
		}, habitat.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		// The station position goes up once so trackers can place the
		// receiver on the map.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := uploader.UploadListenerPosition(ctx, config.Station.Latitude, config.Station.Longitude, config.Station.Altitude); err != nil {
				logger.Warn(fmt.Sprintf("listener position upload failed: %s", err.Error()))
			}
		}()

		sub, err := queue.Subscribe(uploader.Name(), queueCapacity)
		if err != nil {
			return nil, err
		}

		runners = append(runners, delivery.NewRunner(delivery.RunnerConfig{
			Rate:        config.Uploaders.Habitat.Rate.Duration(),
			Synchronous: config.Uploaders.Habitat.Synchronous,
			KeepLatest:  true,
		}, sub, uploader, delivery.WithRunnerLogger(logger)))
	}

	if config.Uploaders.Ozi.Enabled {
		uploader := ozi.New(ozi.Config{
			Host:         config.Uploaders.Ozi.Host,
			WaypointPort: config.Uploaders.Ozi.WaypointPort,
			SummaryPort:  config.Uploaders.Ozi.SummaryPort,
			Station:      config.Station.Callsign,
		}, ozi.WithLogger(logger))

		sub, err := queue.Subscribe(uploader.Name(), queueCapacity)
		if err != nil {
			return nil, err
		}

		// Mapping clients want every position as it arrives.
		runners = append(runners, delivery.NewRunner(delivery.RunnerConfig{}, sub, uploader,
			delivery.WithRunnerLogger(logger)))
	}

	return runners, nil
}

func createStorage(config *StorageConfig) (*storage.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbDir := filepath.Join(wd, storageDir)
	if config.DataDirectory != "" {
		dbDir = filepath.Join(wd, config.DataDirectory)
	}

	stat, err := os.Stat(dbDir)
	if err != nil {
		return nil, fmt.Errorf("storage directory '%s' is not accessible: %w", dbDir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbDir)
	}

	dbPath := filepath.Join(dbDir, fmt.Sprintf("autorx_%s.sqlite", time.Now().UTC().Format("20060102_150405")))

	return storage.New(dbPath), nil
}
