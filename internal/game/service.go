package game

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"altanian/internal/metrics"
)

// Store persists one ledger document per player.
type Store interface {
	// Create inserts l unless the player already has a ledger, in which
	// case the existing one is returned with created=false.
	Create(ctx context.Context, l Ledger) (Ledger, bool, error)
	Load(ctx context.Context, userID string) (Ledger, error)
	// Update loads, applies fn and saves in one transaction. Nothing is
	// written when fn returns an error.
	Update(ctx context.Context, userID string, fn func(*Ledger) error) (Ledger, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Broadcaster mirrors snapshots to a player's push channel observers.
type Broadcaster interface {
	Publish(userID string, snap Snapshot)
}

type Service struct {
	store        Store
	log          *slog.Logger
	balance      Balance
	locks        playerLocks
	now          func() time.Time
	newSeed      func() int64
	storeTimeout time.Duration

	mu          sync.RWMutex
	broadcaster Broadcaster
}

func NewService(store Store, balance Balance, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		log:          logger,
		balance:      balance,
		locks:        playerLocks{m: make(map[string]*playerLock)},
		now:          func() time.Time { return time.Now().UTC() },
		newSeed:      randomSeed,
		storeTimeout: 5 * time.Second,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetSeedSource replaces the generator of new players' seeds.
func (s *Service) SetSeedSource(fn func() int64) { s.newSeed = fn }

func (s *Service) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		s.storeTimeout = d
	}
}

func (s *Service) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

func (s *Service) Balance() Balance { return s.balance }

// Start creates the player's ledger, or returns the existing one untouched.
func (s *Service) Start(ctx context.Context, userID, nationName string) (Snapshot, error) {
	nationName = strings.TrimSpace(nationName)
	if err := validateNationName(nationName); err != nil {
		s.observe("start", err, TickReport{})
		return Snapshot{}, err
	}
	unlock := s.locks.lock(userID)
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	l, created, err := s.store.Create(cctx, NewLedger(userID, nationName, s.newSeed(), s.now(), s.balance))
	cancel()
	unlock()
	if err != nil {
		s.observe("start", err, TickReport{})
		return Snapshot{}, err
	}
	if created {
		s.log.Info("ledger created", "user_id", userID, "nation", nationName, "seed", l.Seed)
		s.observe("start", nil, TickReport{})
		snap := NewSnapshot(l, s.balance)
		s.publish(userID, snap)
		return snap, nil
	}
	return s.mutate(ctx, userID, "start", true, nil)
}

// State advances the ledger to now and returns it.
func (s *Service) State(ctx context.Context, userID string) (Snapshot, error) {
	return s.mutate(ctx, userID, "state", false, nil)
}

func (s *Service) Tick(ctx context.Context, userID string) (Snapshot, error) {
	return s.mutate(ctx, userID, "tick", true, nil)
}

func (s *Service) Click(ctx context.Context, userID string) (Snapshot, error) {
	return s.mutate(ctx, userID, "click", true, func(l *Ledger, _ time.Time) error {
		Click(l)
		return nil
	})
}

func (s *Service) BuyGenerator(ctx context.Context, userID, kind string) (Snapshot, error) {
	return s.mutate(ctx, userID, "buy_generator", true, func(l *Ledger, _ time.Time) error {
		return BuyGenerator(l, s.balance, kind)
	})
}

func (s *Service) BuildShip(ctx context.Context, userID string) (Snapshot, error) {
	return s.mutate(ctx, userID, "build_ship", true, func(l *Ledger, _ time.Time) error {
		return BuildShip(l, s.balance)
	})
}

func (s *Service) UpgradeShip(ctx context.Context, userID string) (Snapshot, error) {
	return s.mutate(ctx, userID, "upgrade_ship", true, func(l *Ledger, _ time.Time) error {
		return UpgradeShip(l, s.balance)
	})
}

func (s *Service) Launch(ctx context.Context, userID string) (Snapshot, error) {
	return s.mutate(ctx, userID, "launch", true, func(l *Ledger, _ time.Time) error {
		return Launch(l)
	})
}

func (s *Service) Land(ctx context.Context, userID, planetName string) (Snapshot, error) {
	return s.mutate(ctx, userID, "land", true, func(l *Ledger, _ time.Time) error {
		return Land(l, s.balance, planetName)
	})
}

func (s *Service) TravelToPlanet(ctx context.Context, userID, planetName string) (Snapshot, error) {
	return s.mutate(ctx, userID, "travel_to_planet", true, func(l *Ledger, _ time.Time) error {
		return TravelToPlanet(l, s.balance, planetName)
	})
}

func (s *Service) Harvest(ctx context.Context, userID, planetName string) (Snapshot, Gain, error) {
	var gain Gain
	snap, err := s.mutate(ctx, userID, "harvest", true, func(l *Ledger, now time.Time) error {
		g, err := Harvest(l, s.balance, planetName, now)
		gain = g
		return err
	})
	return snap, gain, err
}

// HarvestMany harvests count times in one transaction; count is clamped to
// [1, MaxHarvestBatch].
func (s *Service) HarvestMany(ctx context.Context, userID, planetName string, count int) (Snapshot, []Gain, error) {
	count = min(max(count, 1), MaxHarvestBatch)
	var gains []Gain
	snap, err := s.mutate(ctx, userID, "harvest", true, func(l *Ledger, now time.Time) error {
		gains = gains[:0]
		for i := 0; i < count; i++ {
			g, err := Harvest(l, s.balance, planetName, now)
			if err != nil {
				return err
			}
			gains = append(gains, g)
		}
		return nil
	})
	return snap, gains, err
}

// System returns the player's current system, or the one at index when set.
func (s *Service) System(ctx context.Context, userID string, index *int) (System, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	l, err := s.store.Load(ctx, userID)
	if err != nil {
		return System{}, err
	}
	Normalize(&l, s.balance)
	target := l.SystemIndex
	if index != nil {
		if *index < 0 {
			return System{}, ErrInvalidTarget
		}
		target = *index
	}
	return GenerateSystem(l.Seed, target, s.balance), nil
}

func (s *Service) Travel(ctx context.Context, userID string, req TravelRequest) (Snapshot, TravelQuote, error) {
	var quote TravelQuote
	snap, err := s.mutate(ctx, userID, "travel", true, func(l *Ledger, _ time.Time) error {
		q, err := Travel(l, s.balance, req)
		quote = q
		return err
	})
	return snap, quote, err
}

// TravelCost previews a jump against the advanced ledger without saving it.
func (s *Service) TravelCost(ctx context.Context, userID string, req TravelRequest) (TravelQuote, error) {
	unlock := s.locks.lock(userID)
	defer unlock()
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	l, err := s.store.Load(ctx, userID)
	if err != nil {
		s.observe("travel_cost", err, TickReport{})
		return TravelQuote{}, err
	}
	Normalize(&l, s.balance)
	Advance(&l, s.now(), s.balance)
	s.observe("travel_cost", nil, TickReport{})
	return QuoteTravel(l, s.balance, req), nil
}

func (s *Service) Craft(ctx context.Context, userID, kind string, energyRequired float64) (Snapshot, error) {
	return s.mutate(ctx, userID, "craft", true, func(l *Ledger, _ time.Time) error {
		return Craft(l, kind, energyRequired)
	})
}

func (s *Service) CancelCraft(ctx context.Context, userID string, index int) (Snapshot, error) {
	return s.mutate(ctx, userID, "cancel_craft", true, func(l *Ledger, _ time.Time) error {
		CancelCraft(l, index)
		return nil
	})
}

func (s *Service) AllocateEnergy(ctx context.Context, userID string, pct float64) (Snapshot, error) {
	return s.mutate(ctx, userID, "allocate_energy", true, func(l *Ledger, _ time.Time) error {
		AllocateEnergy(l, pct)
		return nil
	})
}

func (s *Service) Fuel(ctx context.Context, userID string, amount float64) (Snapshot, error) {
	return s.mutate(ctx, userID, "fm_fuel", true, func(l *Ledger, _ time.Time) error {
		return FuelManipulator(l, amount)
	})
}

func (s *Service) SetAutoFuel(ctx context.Context, userID string, on bool) (Snapshot, error) {
	return s.mutate(ctx, userID, "fm_auto", true, func(l *Ledger, _ time.Time) error {
		SetAutoFuel(l, on)
		return nil
	})
}

func (s *Service) SaveFleet(ctx context.Context, userID string, in FleetUpdate) (Snapshot, error) {
	return s.mutate(ctx, userID, "save_fleet", true, func(l *Ledger, _ time.Time) error {
		SaveFleet(l, in)
		return nil
	})
}

func (s *Service) Story(ctx context.Context, userID string) (StoryView, error) {
	snap, err := s.State(ctx, userID)
	if err != nil {
		return StoryView{}, err
	}
	return Story(snap.Game, s.balance), nil
}

// RunTickSweep advances every stored ledger so idle players accrue in
// storage. Per-player failures are logged and skipped.
func (s *Service) RunTickSweep(ctx context.Context) (int, error) {
	ids, err := s.listUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return advanced, err
		}
		if _, err := s.mutate(ctx, id, "sweep", false, nil); err != nil {
			s.log.Error("sweep advance failed", "user_id", id, "err", err)
			continue
		}
		advanced++
	}
	return advanced, nil
}

// ExportLedgers loads every ledger as stored, without advancing it.
func (s *Service) ExportLedgers(ctx context.Context) ([]Ledger, error) {
	ids, err := s.listUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Ledger, 0, len(ids))
	for _, id := range ids {
		lctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		l, err := s.store.Load(lctx, id)
		cancel()
		if err != nil {
			if errors.Is(err, ErrNotStarted) {
				continue
			}
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Service) listUserIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.ListUserIDs(ctx)
}

// mutate is the single path every operation takes: serialize on the player,
// normalize, advance to now, apply fn on a working copy, persist, publish.
func (s *Service) mutate(ctx context.Context, userID, action string, broadcast bool, fn func(l *Ledger, now time.Time) error) (Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return Snapshot{}, ErrNotStarted
	}
	unlock := s.locks.lock(userID)
	defer unlock()
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var report TickReport
	l, err := s.store.Update(ctx, userID, func(stored *Ledger) error {
		work := stored.Clone()
		Normalize(&work, s.balance)
		now := s.now()
		report = Advance(&work, now, s.balance)
		if fn != nil {
			if err := fn(&work, now); err != nil {
				return err
			}
		}
		work.UpdatedAt = now
		*stored = work
		return nil
	})
	s.observe(action, err, report)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			s.log.Error("storage unavailable", "user_id", userID, "action", action, "err", err)
		}
		return Snapshot{}, err
	}
	snap := NewSnapshot(l, s.balance)
	if broadcast {
		s.publish(userID, snap)
	}
	return snap, nil
}

func (s *Service) publish(userID string, snap Snapshot) {
	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b != nil {
		b.Publish(userID, snap)
	}
}

func (s *Service) observe(action string, err error, report TickReport) {
	metrics.Actions.WithLabelValues(action, ResultLabel(err)).Inc()
	if report.ElapsedSeconds > 0 {
		metrics.TickElapsed.Observe(report.ElapsedSeconds)
	}
	if len(report.Completed) > 0 {
		metrics.CraftsCompleted.Add(float64(len(report.Completed)))
	}
	if errors.Is(err, ErrStorageUnavailable) {
		metrics.StorageErrors.WithLabelValues(action).Inc()
	}
}

// ResultLabel buckets an error into its taxonomy name.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInsufficientResources):
		return "insufficient_resources"
	case errors.Is(err, ErrIllegalState):
		return "illegal_state"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrTxConflict):
		return "conflict"
	default:
		return "internal"
	}
}

type playerLock struct {
	mu   sync.Mutex
	refs int
}

// playerLocks hands out one mutex per player and forgets it once idle.
type playerLocks struct {
	mu sync.Mutex
	m  map[string]*playerLock
}

func (p *playerLocks) lock(userID string) func() {
	p.mu.Lock()
	pl, ok := p.m[userID]
	if !ok {
		pl = &playerLock{}
		p.m[userID] = pl
	}
	pl.refs++
	p.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		p.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(p.m, userID)
		}
		p.mu.Unlock()
	}
}

func randomSeed() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<31-1))
	if err != nil {
		return time.Now().UnixNano()&(1<<31-1) | 1
	}
	return n.Int64() + 1
}
