package krakenfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

const (
	// KrakenWebSocketURL is the base url to open a connection with kraken.
	// This can be tweaked if in the future it might change, even if unlikely.
	KrakenWebSocketURL = "ws.kraken.com"

	tickerPair = "XBT/USD"
)

// Service maintains a ticker subscription with the kraken websocket API and
// serves the latest observed USD/BTC price. LatestPrice fails until the first
// ticker message arrives.
type Service struct {
	url  string
	conn *websocket.Conn

	priceMtx    *sync.RWMutex
	latestPrice float64

	quitChan chan struct{}
}

func NewService() (*Service, error) {
	return newService(fmt.Sprintf("wss://%s", KrakenWebSocketURL))
}

func newService(url string) (*Service, error) {
	s := &Service{
		url:      url,
		priceMtx: &sync.RWMutex{},
		quitChan: make(chan struct{}, 1),
	}

	conn, err := connect(url)
	if err != nil {
		return nil, err
	}
	s.conn = conn

	if err := s.subscribe(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) LatestPrice(ctx context.Context) (float64, error) {
	s.priceMtx.RLock()
	defer s.priceMtx.RUnlock()

	if s.latestPrice <= 0 {
		return 0, domain.NewError(domain.KindUpstream, "no ticker received from kraken yet")
	}
	return s.latestPrice, nil
}

func (s *Service) Start() error {
	mustReconnect, err := s.start()
	for mustReconnect {
		log.WithError(err).Warn("connection dropped unexpectedly. Trying to reconnect...")

		conn, err := connect(s.url)
		if err != nil {
			return err
		}
		s.conn = conn

		if err := s.subscribe(); err != nil {
			return err
		}

		log.Debug("connection and subscription re-established. Restarting...")
		mustReconnect, err = s.start()
	}

	return err
}

func (s *Service) Stop() {
	s.quitChan <- struct{}{}
}

func (s *Service) start() (mustReconnect bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			mustReconnect = true
		}
	}()

	for {
		select {
		case <-s.quitChan:
			err = s.conn.Close()
			return false, err
		default:
			// Kraken sometimes drops market data connections without a close
			// frame, which can make the read below panic instead of returning
			// an UnexpectedCloseError. The deferred recover catches both paths
			// and signals the reconnect.
			_, message, err := s.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					panic(err)
				}
			}

			price, ok := parseTicker(message)
			if !ok {
				continue
			}
			s.writePrice(price)
		}
	}
}

func (s *Service) writePrice(price float64) {
	s.priceMtx.Lock()
	defer s.priceMtx.Unlock()

	s.latestPrice = price
}

func (s *Service) subscribe() error {
	msg := map[string]interface{}{
		"event": "subscribe",
		"pair":  []string{tickerPair},
		"subscription": map[string]string{
			"name": "ticker",
		},
	}

	buf, _ := json.Marshal(msg)
	if err := s.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("cannot subscribe to ticker: %s", err)
	}

	return nil
}

// parseTicker extracts the last trade price from a kraken ticker message,
// which arrives as [channelID, {"c": ["<price>", ...], ...}, "ticker", pair].
func parseTicker(msg []byte) (float64, bool) {
	var i []interface{}
	if err := json.Unmarshal(msg, &i); err != nil {
		return 0, false
	}
	if len(i) != 4 {
		return 0, false
	}

	ii, ok := i[1].(map[string]interface{})
	if !ok {
		return 0, false
	}

	iii, ok := ii["c"].([]interface{})
	if !ok || len(iii) < 1 {
		return 0, false
	}
	priceStr, ok := iii[0].(string)
	if !ok {
		return 0, false
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return 0, false
	}
	f, _ := price.Float64()
	if f <= 0 {
		return 0, false
	}
	return f, true
}

func connect(url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
