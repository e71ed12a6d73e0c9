package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/e7canasta/orion-frameshare/internal/config"
	"github.com/e7canasta/orion-frameshare/modules/framebus"
)

func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  zslcam %-54s║\n", version)
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("  Sensor:    %s %dx%d %s @ %.1f fps\n",
		cfg.Sensor.Source, cfg.Sensor.Width, cfg.Sensor.Height, cfg.Sensor.Format, cfg.Sensor.FPS)
	fmt.Printf("  Images:    %d (%d reserved, ZSL ring %d, stream %d)\n",
		cfg.Reader.MaxImages, cfg.Reader.Reserved, cfg.Reader.ZSLRingSize, cfg.Reader.StreamCapacity)
	if cfg.Capture.Schedule != "" {
		fmt.Printf("  Schedule:  %s\n", cfg.Capture.Schedule)
	}
	fmt.Printf("  Output:    %s (%s)\n", cfg.Capture.OutputDir, cfg.Capture.Encoding)
	fmt.Printf("  Admin:     http://%s\n", cfg.HTTP.Listen)
	fmt.Println()
}

// reportStats periodically prints statistics from all pipeline components.
func reportStats(ctx context.Context, interval time.Duration, p *pipeline) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(p)
		}
	}
}

// printLiveStats prints current statistics from all components.
func printLiveStats(p *pipeline) {
	src := p.sources()
	sensorStats := src.Sensor()
	reader := src.Reader()
	exec := src.Executor()
	saver := src.Saver()
	preview := src.Preview()

	fmt.Println()
	fmt.Println("╭─────────────────────────────────────────────────────────────────╮")
	fmt.Printf("│ Pipeline Statistics (Uptime: %v)\n", time.Since(p.startedAt).Round(time.Second))
	fmt.Println("├─────────────────────────────────────────────────────────────────┤")

	fmt.Println("│ Sensor:")
	fmt.Printf("│   Frames Emitted:     %6d frames\n", sensorStats.FrameCount)
	fmt.Printf("│   Target FPS:         %6.2f fps\n", sensorStats.FPSTarget)
	fmt.Printf("│   Real FPS:           %6.2f fps\n", sensorStats.FPSReal)

	fmt.Println("│")
	fmt.Println("│ Tickets:")
	fmt.Printf("│   Root Available:     %6d / %d\n", reader.RootAvailable, reader.RootCapacity)
	fmt.Printf("│   High Priority:      %6d available, %d waiting\n",
		reader.HighPriorityAvailable, reader.HighPriorityWaiters)

	fmt.Println("│")
	fmt.Println("│ ZSL Ring:")
	fmt.Printf("│   Buffered:           %6d images\n", reader.ZSL.Buffered)
	fmt.Printf("│   Stored / Dropped:   %6d / %d (%.1f%% dropped)\n",
		reader.ZSL.Stored, reader.ZSL.Dropped, dropRateFromCounts(reader.ZSL.Stored, reader.ZSL.Dropped))

	d := reader.Distributor
	fmt.Println("│")
	fmt.Println("│ Distributor:")
	fmt.Printf("│   Distributed:        %6d images\n", d.ImagesDistributed)
	fmt.Printf("│   Unrouted:           %6d images\n", d.ImagesUnrouted)
	fmt.Printf("│   Routes:             %6d\n", len(d.Routes))
	if d.StaleRequests > 0 {
		fmt.Printf("│   Stale Requests:     %6d (driver skipped frames)\n", d.StaleRequests)
	}

	fmt.Println("│")
	fmt.Println("│ Commands:")
	fmt.Printf("│   Running:            %6d\n", exec.Running)
	fmt.Printf("│   Succeeded / Failed: %6d / %d\n", exec.Succeeded, exec.Failed)

	fmt.Println("│")
	fmt.Println("│ Captures:")
	fmt.Printf("│   Saved:              %6d (%d pending, %d failed)\n", saver.Saved, saver.Pending, saver.Failed)

	if len(preview.Subscribers) > 0 {
		fmt.Println("│")
		fmt.Println("│ Preview Viewers:")
		for id, st := range preview.Subscribers {
			fmt.Printf("│   %-24s: %5d sent, %4d dropped (%.1f%%)\n",
				shortID(id), st.Sent, st.Dropped, framebus.CalculateSubscriberDropRate(preview, id)*100)
		}
	}

	fmt.Println("╰─────────────────────────────────────────────────────────────────╯")
	fmt.Println()
}

// printFinalStats prints final statistics at shutdown.
func printFinalStats(p *pipeline) {
	src := p.sources()
	sensorStats := src.Sensor()
	reader := src.Reader()
	saver := src.Saver()
	preview := src.Preview()

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                     Final Statistics                         ")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	fmt.Printf("  Frames Emitted:        %d frames\n", sensorStats.FrameCount)
	fmt.Printf("  Average FPS:           %.2f fps\n", sensorStats.FPSReal)
	fmt.Printf("  Images Distributed:    %d\n", reader.Distributor.ImagesDistributed)
	fmt.Printf("  ZSL Drops:             %d (%.1f%%)\n",
		reader.ZSL.Dropped, dropRateFromCounts(reader.ZSL.Stored, reader.ZSL.Dropped))

	fmt.Println()
	fmt.Printf("  Captures Saved:        %d\n", saver.Saved)
	if saver.Failed > 0 {
		fmt.Printf("  Captures Failed:       %d\n", saver.Failed)
	}
	fmt.Printf("  Preview Frames:        %d published, %.1f%% dropped\n",
		preview.TotalPublished, framebus.CalculateDropRate(preview)*100)

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

// dropRateFromCounts calculates drop percentage from kept + dropped.
func dropRateFromCounts(kept, dropped uint64) float64 {
	total := kept + dropped
	if total == 0 {
		return 0.0
	}
	return float64(dropped) / float64(total) * 100.0
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i >= 0 && len(id) > i+9 {
		return id[:i+9]
	}
	return id
}
