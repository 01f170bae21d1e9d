// Package heartbeat publishes a periodic uptime beacon on
// "system/heartbeat". The interval is reconfigurable at runtime via
// JSON on "config/heartbeat", e.g. {"interval": 30}.
package heartbeat

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"mupplet-go/bus"
)

var (
	topicConfig = bus.T("config/heartbeat")
	topicBeat   = bus.T("system/heartbeat")
)

const defaultInterval = 60 * time.Second

type Service struct {
	started time.Time
}

// Start launches the heartbeat service goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	cfgSub, err := conn.Subscribe(topicConfig)
	if err != nil {
		return err
	}
	s.started = time.Now()
	go s.serviceLoop(ctx, conn, cfgSub)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, cfgSub <-chan *bus.Message) {
	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	s.beat(conn)
	for {
		select {
		case <-ctx.Done():
			log.Println("heartbeat: stopping")
			return
		case <-tick.C:
			s.beat(conn)
		case msg, ok := <-cfgSub:
			if !ok {
				return
			}
			if iv, ok := decodeInterval(msg.Payload); ok {
				tick.Reset(iv)
				log.Printf("heartbeat: interval set to %s", iv)
			}
		}
	}
}

func (s *Service) beat(conn *bus.Connection) {
	uptime := int64(time.Since(s.started).Seconds())
	conn.Pub(topicBeat, strconv.FormatInt(uptime, 10))
}

// decodeInterval accepts {"interval": <seconds>} as JSON text or an
// already decoded object.
func decodeInterval(p any) (time.Duration, bool) {
	var m map[string]any
	switch v := p.(type) {
	case map[string]any:
		m = v
	case string:
		if json.Unmarshal([]byte(v), &m) != nil {
			return 0, false
		}
	case []byte:
		if json.Unmarshal(v, &m) != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	iv, ok := m["interval"].(float64)
	if !ok || iv <= 0 {
		return 0, false
	}
	return time.Duration(iv * float64(time.Second)), true
}
