package websocket

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/logging"
	"github.com/joshklop/cryptoapi/pkg/orderbook"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
)

// Audience selects the public or private endpoint and its connection
// rate-limit partition.
type Audience int

const (
	Public Audience = iota
	Private
)

func (a Audience) String() string {
	if a == Private {
		return "private"
	}
	return "public"
}

// Hub is the per-exchange subscription engine. It owns the pool of physical
// connections, each with its own channel-registry partition, opens new
// connections under the audience rate limiter, batches subscribe requests
// under the max-channels-per-connection cap, classifies inbound replies,
// and delivers unified events through a bounded single-consumer sink.
type Hub struct {
	cfg     Config
	proto   Protocol
	markets *interfaces.MarketTable
	log     logging.Logger

	limiters map[Audience]ratelimit.Limiter
	// parsers is the kind dispatch table, resolved once at construction.
	parsers map[interfaces.Kind]parseFunc

	mu    sync.Mutex
	conns map[*Conn]*registry

	books *orderbook.Store

	// events is the result sink: a single-slot queue, so fast-producing
	// connections are throttled to the consumer's pace.
	events chan interfaces.Event
	errs   chan error

	closed    chan struct{}
	closeOnce sync.Once

	readers sync.WaitGroup
}

type parseFunc func(raw []byte, ch *Channel, market *interfaces.Market) (interfaces.Event, bool, error)

// NewHub wires a Protocol to the engine. The market table must be
// populated before subscribing.
func NewHub(cfg Config, proto Protocol, markets *interfaces.MarketTable, log logging.Logger) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	h := &Hub{
		cfg:     cfg,
		proto:   proto,
		markets: markets,
		log:     log.WithFields(logging.String("exchange", proto.Name())),
		limiters: map[Audience]ratelimit.Limiter{
			Public:  ratelimit.NewWindowLimiter(cfg.PublicConns),
			Private: ratelimit.NewWindowLimiter(cfg.PrivateConns),
		},
		conns:  make(map[*Conn]*registry),
		books:  orderbook.NewStore(),
		events: make(chan interfaces.Event, 1),
		errs:   make(chan error, 16),
		closed: make(chan struct{}),
	}

	h.parsers = map[interfaces.Kind]parseFunc{
		interfaces.KindTicker:    h.parseTicker,
		interfaces.KindTrades:    h.parseTrades,
		interfaces.KindOrderBook: h.parseOrderBook,
		interfaces.KindOHLCV:     h.parseCandles,
	}
	return h, nil
}

// Subscribe dispatches exchange-native subscribe requests: while requests
// remain, it acquires a connection permit, dials the audience endpoint,
// sends the next batch of at most max-channels-per-connection requests, and
// spawns the connection's reader. The call returns once every request has
// been dispatched; readers keep running independently. A dial failure
// propagates to the caller and earlier connections stay open.
func (h *Hub) Subscribe(ctx context.Context, requests []Request, audience Audience) error {
	endpoint := h.cfg.PublicURL
	if audience == Private {
		endpoint = h.cfg.PrivateURL
	}
	if endpoint == "" {
		return fmt.Errorf("%s audience: %w", audience, interfaces.ErrNotSupported)
	}

	for len(requests) > 0 {
		if err := h.limiters[audience].Wait(ctx); err != nil {
			return err
		}

		conn, err := Dial(ctx, endpoint, h.cfg.Dial, h.log)
		if err != nil {
			return err
		}

		n := len(requests)
		if mc := h.cfg.MaxChannelsPerConn; mc > 0 && mc < n {
			n = mc
		}
		batch := requests[:n]
		requests = requests[n:]

		h.mu.Lock()
		h.conns[conn] = &registry{pending: append([]Request(nil), batch...)}
		h.mu.Unlock()

		for _, req := range batch {
			if err := conn.Send(ctx, req.Body); err != nil {
				h.log.Error("send failed",
					logging.String("symbol", req.Symbol),
					logging.Error(err),
				)
				h.dropConn(conn)
				return fmt.Errorf("send subscribe request: %w", err)
			}
		}

		h.log.Debug("connection opened",
			logging.String("audience", audience.String()),
			logging.Int("requests", len(batch)),
		)

		h.readers.Add(1)
		go h.readLoop(conn)
	}
	return nil
}

// Unsubscribe sends the unsubscribe request matching a registered channel
// id. Deregistration happens when the exchange acknowledges.
func (h *Hub) Unsubscribe(ctx context.Context, channelID int) error {
	h.mu.Lock()
	var conn *Conn
	var channel *Channel
	for c, reg := range h.conns {
		for _, ch := range reg.registered {
			if ch.ID == channelID {
				conn, channel = c, ch
				break
			}
		}
	}
	h.mu.Unlock()

	if channel == nil {
		return fmt.Errorf("channel %d: %w", channelID, interfaces.ErrUnsubscribe)
	}
	req, err := h.proto.BuildUnsubscribeRequest(channel)
	if err != nil {
		return err
	}
	return conn.Send(ctx, req.Body)
}

// Next blocks until the next unified event is available. Reader failures
// surface here as errors; the stream is infinite and not restartable.
func (h *Hub) Next(ctx context.Context) (interfaces.Event, error) {
	select {
	case ev := <-h.events:
		return ev, nil
	case err := <-h.errs:
		return interfaces.Event{}, err
	case <-ctx.Done():
		return interfaces.Event{}, ctx.Err()
	case <-h.closed:
		return interfaces.Event{}, interfaces.ErrNotConnected
	}
}

// Books exposes the order book store for read access.
func (h *Hub) Books() *orderbook.Store {
	return h.books
}

// ChannelCount reports the number of registered channels across all
// connections.
func (h *Hub) ChannelCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, reg := range h.conns {
		n += len(reg.registered)
	}
	return n
}

// Channels returns a snapshot of every registered channel, ordered by id.
func (h *Hub) Channels() []Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Channel, 0)
	for _, reg := range h.conns {
		for _, ch := range reg.registered {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnCount reports the number of open physical connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close tears down every connection and terminates the event stream.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })

	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	h.readers.Wait()
	return nil
}

// readLoop runs until the connection closes, classifying every inbound
// frame. A classification or parse error terminates this connection's
// processing; reconnect policy belongs to the caller.
func (h *Hub) readLoop(conn *Conn) {
	defer h.readers.Done()
	defer h.dropConn(conn)

	for {
		raw, err := conn.Read()
		if err != nil {
			if conn.Closed() || h.isClosed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.fail(fmt.Errorf("read: %w", err))
			}
			return
		}
		if err := h.dispatch(conn, raw); err != nil {
			h.fail(err)
			return
		}
	}
}

// dispatch is the reply classification state machine for one frame.
func (h *Hub) dispatch(conn *Conn, raw []byte) error {
	switch h.proto.Classify(raw) {
	case ReplyInfo:
		return nil

	case ReplyError:
		// A nil error is a known benign advisory, swallowed on purpose.
		return h.proto.ParseError(raw)

	case ReplySubscribed:
		return h.handleSubscribed(conn, raw)

	case ReplyUnsubscribed:
		return h.handleUnsubscribed(conn, raw)

	default:
		return h.handleData(conn, raw)
	}
}

func (h *Hub) handleSubscribed(conn *Conn, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg := h.conns[conn]
	if reg == nil {
		return nil
	}
	ch, err := h.proto.ParseSubscription(raw, reg.registered)
	if err != nil {
		return err
	}
	if ch == nil {
		// Ack for a market id not in the loaded market set.
		return nil
	}
	if existing := reg.lookup(ch.Key); existing != nil {
		h.log.Warn("duplicate subscription ack",
			logging.String("key", ch.Key),
			logging.String("symbol", ch.Symbol),
		)
		return nil
	}

	ch.ID = h.claimChannelID()
	reg.registered = append(reg.registered, ch)
	reg.settlePending(ch)

	h.log.Debug("channel registered",
		logging.Int("channel_id", ch.ID),
		logging.String("key", ch.Key),
		logging.String("kind", string(ch.Kind)),
		logging.String("symbol", ch.Symbol),
	)
	return nil
}

func (h *Hub) handleUnsubscribed(conn *Conn, raw []byte) error {
	key, err := h.proto.ParseUnsubscription(raw)
	if err != nil {
		return err
	}

	h.mu.Lock()
	reg := h.conns[conn]
	var ch *Channel
	if reg != nil {
		ch = reg.remove(key)
	}
	h.mu.Unlock()

	if ch == nil {
		return nil
	}
	return h.push(interfaces.Event{
		Kind: interfaces.KindUnsubscribed,
		Payload: interfaces.Unsubscription{
			ChannelID: ch.ID,
			Symbol:    ch.Symbol,
			Kind:      ch.Kind,
		},
	})
}

func (h *Hub) handleData(conn *Conn, raw []byte) error {
	key, err := h.proto.CorrelationKey(raw)
	if err != nil {
		return err
	}

	h.mu.Lock()
	reg := h.conns[conn]
	var ch *Channel
	if reg != nil {
		ch = reg.lookup(key)
	}
	h.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("%w: no channel registered for key %q", interfaces.ErrUnknownResponse, key)
	}

	market := h.markets.BySymbol(ch.Symbol)
	if market == nil {
		return fmt.Errorf("resolve %q: %w", ch.Symbol, interfaces.ErrInvalidSymbol)
	}

	ev, ok, err := h.parsers[ch.Kind](raw, ch, market)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return h.push(ev)
}

func (h *Hub) parseTicker(raw []byte, ch *Channel, market *interfaces.Market) (interfaces.Event, bool, error) {
	ticker, err := h.proto.ParseTicker(raw, market)
	if err != nil || ticker == nil {
		return interfaces.Event{}, false, err
	}
	return interfaces.Event{Kind: interfaces.KindTicker, Payload: ticker}, true, nil
}

func (h *Hub) parseTrades(raw []byte, ch *Channel, market *interfaces.Market) (interfaces.Event, bool, error) {
	trades, err := h.proto.ParseTrades(raw, market)
	if err != nil || len(trades) == 0 {
		return interfaces.Event{}, false, err
	}
	return interfaces.Event{Kind: interfaces.KindTrades, Payload: trades}, true, nil
}

func (h *Hub) parseOrderBook(raw []byte, ch *Channel, market *interfaces.Market) (interfaces.Event, bool, error) {
	update, err := h.proto.ParseOrderBook(raw, market)
	if err != nil || update == nil {
		return interfaces.Event{}, false, err
	}
	book, err := h.books.Apply(market.Symbol, update)
	if err != nil {
		return interfaces.Event{}, false, err
	}
	return interfaces.Event{Kind: interfaces.KindOrderBook, Payload: book}, true, nil
}

func (h *Hub) parseCandles(raw []byte, ch *Channel, market *interfaces.Market) (interfaces.Event, bool, error) {
	batch, err := h.proto.ParseCandles(raw, market)
	if err != nil || batch == nil {
		return interfaces.Event{}, false, err
	}
	if batch.Timeframe == "" {
		batch.Timeframe = ch.Timeframe
	}
	return interfaces.Event{Kind: interfaces.KindOHLCV, Payload: batch}, true, nil
}

// claimChannelID returns max(existing ids)+1 across every connection of
// this exchange instance, or 0 when none exist. O(total channels), which is
// fine for realistic channel counts. Callers hold h.mu.
func (h *Hub) claimChannelID() int {
	next := 0
	for _, reg := range h.conns {
		for _, ch := range reg.registered {
			if ch.ID >= next {
				next = ch.ID + 1
			}
		}
	}
	return next
}

// push delivers an event to the sink, blocking while the single slot is
// occupied.
func (h *Hub) push(ev interfaces.Event) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.closed:
		return nil
	}
}

// fail surfaces a reader error to the consumer.
func (h *Hub) fail(err error) {
	h.log.Error("connection processing failed", logging.Error(err))
	select {
	case h.errs <- err:
	case <-h.closed:
	default:
	}
}

// dropConn closes the transport and discards its registry partition; all of
// the connection's channels are implicitly deregistered.
func (h *Hub) dropConn(conn *Conn) {
	_ = conn.Close()
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

func (h *Hub) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}
