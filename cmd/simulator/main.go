// Package main provides a development backend simulator: it pushes
// sample voice notifications over a websocket, serves the aggregate
// status endpoint and on-demand audio bodies, and mirrors client
// playback reports back to other subscribers as status updates.
package main

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/ingest"
	"github.com/osa030/voicebox/internal/app/reporter"
	"github.com/osa030/voicebox/internal/infra/logger"
)

var (
	app      = kingpin.New("voicebox-simulator", "voicebox development backend simulator")
	addr     = app.Flag("addr", "Listen address").Default(":8080").String()
	audioDir = app.Flag("audio-dir", "Directory with sample .mp3 files").Default("testdata").String()
	interval = app.Flag("interval", "Push interval").Default("20s").Duration()
	verbose  = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
)

var sampleTexts = []string{
	"Resident in room four has left the monitored area, please check the hallway camera.",
	"Unusual inactivity detected in the living room for the last thirty minutes.",
	"Medication reminder acknowledged by the resident.",
	"Fall suspected near the bathroom door, immediate attention required.",
	"Nightly behavior summary is ready for review.",
}

type simulator struct {
	hub      *hub
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	audios map[string][]byte // id -> raw audio body
	active int
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Output: "stdout", Level: level}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	sim := &simulator{
		hub:      newHub(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		audios:   map[string][]byte{},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/streaming-status", sim.handleStreamingStatus)
	router.GET("/audio/:id", sim.handleAudio)
	router.GET("/ws", sim.handleWS)

	go sim.feed(*audioDir, *interval)

	zlog.Info().Str("addr", *addr).Msg("simulator: listening")
	if err := router.Run(*addr); err != nil {
		zlog.Fatal().Err(err).Msg("simulator: server failed")
	}
}

func (s *simulator) handleStreamingStatus(c *gin.Context) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"streaming_system": gin.H{
			"connected_clients": s.hub.count(),
			"active_streams":    active,
		},
	})
}

func (s *simulator) handleAudio(c *gin.Context) {
	s.mu.RLock()
	body, ok := s.audios[c.Param("id")]
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown audio id"})
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", body)
}

func (s *simulator) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("simulator: websocket upgrade failed")
		return
	}

	cl := &client{id: uuid.New().String(), conn: conn}
	s.hub.add(cl)
	zlog.Info().Str("client", cl.id).Msg("simulator: client connected")

	defer func() {
		s.hub.remove(cl.id)
		_ = conn.Close()
		zlog.Info().Str("client", cl.id).Msg("simulator: client disconnected")
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				zlog.Debug().Err(err).Str("client", cl.id).Msg("simulator: read failed")
			}
			return
		}
		s.handleInbound(cl, env)
	}
}

// handleInbound mirrors playback reports back to the other subscribers
// so they can reconcile item status, the way the real backend fans out
// updates from every dashboard session.
func (s *simulator) handleInbound(from *client, env envelope) {
	if env.Event != reporter.EventPlaybackStatus {
		zlog.Debug().Str("event", env.Event).Msg("simulator: ignoring unknown event")
		return
	}

	s.hub.broadcast(envelope{
		Event: ingest.EventAudioStatusUpdate,
		Data:  env.Data,
	}, from.id)
}

// feed pushes one sample notification per interval, cycling through the
// audio files in dir.
func (s *simulator) feed(dir string, every time.Duration) {
	files, err := sampleFiles(dir)
	if err != nil {
		zlog.Warn().Err(err).Str("dir", dir).Msg("simulator: no sample audio, feed disabled")
		return
	}
	zlog.Info().Int("files", len(files)).Dur("interval", every).Msg("simulator: feeding notifications")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for i := 0; ; i++ {
		<-ticker.C
		if s.hub.count() == 0 {
			continue
		}

		body, err := os.ReadFile(files[i%len(files)])
		if err != nil {
			zlog.Warn().Err(err).Msg("simulator: failed to read sample file")
			continue
		}

		id := uuid.New().String()
		s.mu.Lock()
		s.audios[id] = body
		s.active = 1
		s.mu.Unlock()

		s.hub.broadcast(envelope{
			Event: ingest.EventAudioStream,
			Data: map[string]any{
				"metadata": map[string]any{
					"audio_id":     id,
					"text_content": sampleTexts[i%len(sampleTexts)],
					"emotion":      "neutral",
					"language":     "en",
				},
				"audio_data": base64.StdEncoding.EncodeToString(body),
			},
		}, "")
		zlog.Info().Str("audio_id", id).Msg("simulator: pushed notification")
	}
}

func sampleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .mp3 files in %s", dir)
	}
	return files, nil
}
