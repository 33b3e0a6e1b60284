package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/models"
)

const (
	teamRefreshInterval  = time.Minute
	defaultCheckInterval = 5 * time.Minute
)

type teamLoop struct {
	cancel   context.CancelFunc
	interval time.Duration
}

// Poller runs one check loop per active team. Loops are started and stopped
// as teams appear, vanish, or change their check interval.
type Poller struct {
	db      *gorm.DB
	monitor *Monitor

	mu    sync.Mutex
	loops map[uint64]*teamLoop
}

// NewPoller constructs a Poller driving the given monitor.
func NewPoller(db *gorm.DB, monitor *Monitor) *Poller {
	return &Poller{db: db, monitor: monitor, loops: make(map[uint64]*teamLoop)}
}

// Start launches the poller. It returns immediately; loops stop when ctx is
// cancelled.
func (p *Poller) Start(ctx context.Context) {
	if p == nil || p.db == nil || p.monitor == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	p.refreshTeams(ctx)
	ticker := time.NewTicker(teamRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.stopAll()
			return
		case <-ticker.C:
			p.refreshTeams(ctx)
		}
	}
}

// refreshTeams reconciles running loops with the active team set.
func (p *Poller) refreshTeams(ctx context.Context) {
	var teams []models.TeamConfig
	if errFind := p.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&teams).Error; errFind != nil {
		log.WithError(errFind).Warn("failover: load active teams failed")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	active := make(map[uint64]time.Duration, len(teams))
	for _, team := range teams {
		interval := time.Duration(team.CheckIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = defaultCheckInterval
		}
		active[team.ID] = interval
	}

	for teamID, loop := range p.loops {
		interval, stillActive := active[teamID]
		if stillActive && interval == loop.interval {
			continue
		}
		loop.cancel()
		delete(p.loops, teamID)
	}

	for teamID, interval := range active {
		if _, running := p.loops[teamID]; running {
			continue
		}
		loopCtx, cancel := context.WithCancel(ctx)
		p.loops[teamID] = &teamLoop{cancel: cancel, interval: interval}
		go p.runTeam(loopCtx, teamID, interval)
	}
}

func (p *Poller) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for teamID, loop := range p.loops {
		loop.cancel()
		delete(p.loops, teamID)
	}
}

// runTeam drives one team's checks. Transient fetch failures are logged and
// retried next tick; they never escalate.
func (p *Poller) runTeam(ctx context.Context, teamID uint64, interval time.Duration) {
	p.checkTeam(ctx, teamID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkTeam(ctx, teamID)
		}
	}
}

func (p *Poller) checkTeam(ctx context.Context, teamID uint64) {
	result, errCheck := p.monitor.CheckAndMaybeSwitch(ctx, teamID)
	if errCheck != nil {
		var transient *TransientError
		if errors.As(errCheck, &transient) {
			log.WithError(errCheck).Warnf("failover: team %d credit check failed, retrying next tick", teamID)
			return
		}
		if errors.Is(errCheck, ErrTeamNotFound) {
			return
		}
		log.WithError(errCheck).Warnf("failover: team %d check failed", teamID)
		return
	}
	switch result.Action {
	case ActionSwitched:
		log.Infof("failover: team %d switched to member %d (credits %d)", teamID, result.MemberID, result.Credits)
	case ActionBootstrapped:
		log.Infof("failover: team %d bootstrapped member %d", teamID, result.MemberID)
	case ActionAllExhausted:
		log.Warnf("failover: team %d has no members left with credits", teamID)
	}
}
