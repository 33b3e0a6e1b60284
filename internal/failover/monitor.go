// Package failover rotates team members when their credits run out. A
// per-team check compares the current member's balance to the team
// threshold and promotes the next enabled member on breach.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/models"
	"github.com/ziling35/accountpool/internal/seatapi"
)

// Action describes the outcome of one check.
type Action string

const (
	// ActionNoAction means credits were above the threshold.
	ActionNoAction Action = "no_action"
	// ActionSwitched means the current member was exhausted and replaced.
	ActionSwitched Action = "switched"
	// ActionBootstrapped means a team with no current member got one promoted.
	ActionBootstrapped Action = "bootstrapped"
	// ActionAllExhausted means no enabled, non-exhausted member remains.
	ActionAllExhausted Action = "all_exhausted"
)

// Result reports what a check did.
type Result struct {
	Action Action
	TeamID uint64
	// MemberID is the current member after the check, zero when none remains.
	MemberID uint64
	// Credits is the balance observed for the checked member, -1 when no
	// credit query ran.
	Credits int
}

// ErrTeamNotFound is returned for unknown or deleted teams.
var ErrTeamNotFound = errors.New("failover: team not found")

// TransientError marks a failed credit query. It carries no state change;
// the next tick retries.
type TransientError struct {
	TeamID uint64
	Email  string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("failover: transient fetch failure for team %d member %s: %v", e.TeamID, e.Email, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Monitor runs credit checks and failovers against the store.
type Monitor struct {
	db   *gorm.DB
	seat seatapi.Service
	now  func() time.Time

	// locks serializes checks per team so a manual trigger cannot race the
	// poller loop into a double switch.
	locks sync.Map
}

// NewMonitor constructs a Monitor.
func NewMonitor(db *gorm.DB, seat seatapi.Service) *Monitor {
	return &Monitor{db: db, seat: seat, now: time.Now}
}

func (m *Monitor) teamLock(teamID uint64) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(teamID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CheckAndMaybeSwitch runs one credit check for a team. It bootstraps a
// current member when none is set, refreshes the member's balance, and
// switches to the next enabled member when the balance falls to or below
// the team threshold. A check that bootstrapped never also switches; the
// threshold applies from the following check. At most one check per team
// runs at a time.
func (m *Monitor) CheckAndMaybeSwitch(ctx context.Context, teamID uint64) (*Result, error) {
	lock := m.teamLock(teamID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()
	result := &Result{Action: ActionNoAction, TeamID: teamID, Credits: -1}

	var team models.TeamConfig
	errFind := m.db.WithContext(ctx).Take(&team, teamID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("failover: load team: %w", errFind)
	}
	if !team.IsActive {
		return result, nil
	}

	member, bootstrapped, errMember := m.resolveCurrentMember(ctx, &team, now)
	if errMember != nil {
		return nil, errMember
	}
	if member == nil {
		result.Action = ActionAllExhausted
		return result, nil
	}
	if bootstrapped {
		result.Action = ActionBootstrapped
	}
	result.MemberID = member.ID

	credits, errCredits := m.memberCredits(ctx, member)
	if errCredits != nil {
		// Report and retry next tick; a fetch failure is not zero credits.
		return nil, &TransientError{TeamID: team.ID, Email: member.Email, Err: errCredits}
	}
	result.Credits = credits

	if errRefresh := m.refreshObservation(ctx, &team, member, credits, now); errRefresh != nil {
		return nil, errRefresh
	}

	if bootstrapped {
		// A freshly promoted member keeps the slot for this check even at or
		// below the threshold; the next tick evaluates it like any other.
		return result, nil
	}

	if credits > team.CreditsThreshold {
		return result, nil
	}

	next, errNext := m.nextEligibleMember(ctx, team.ID, member.ID)
	if errNext != nil {
		return nil, errNext
	}

	if next == nil {
		if errExhaust := m.exhaustWithoutReplacement(ctx, &team, member, now); errExhaust != nil {
			return nil, errExhaust
		}
		result.Action = ActionAllExhausted
		result.MemberID = 0
		return result, nil
	}

	if errSwitch := m.switchMembers(ctx, &team, member, next, credits, now); errSwitch != nil {
		return nil, errSwitch
	}
	result.Action = ActionSwitched
	result.MemberID = next.ID
	return result, nil
}

// resolveCurrentMember loads the team's current member, promoting the first
// enabled one when none is set. The returned flag reports a bootstrap.
func (m *Monitor) resolveCurrentMember(ctx context.Context, team *models.TeamConfig, now time.Time) (*models.TeamMember, bool, error) {
	if team.CurrentMemberID != nil {
		var member models.TeamMember
		errFind := m.db.WithContext(ctx).
			Where("id = ? AND team_id = ?", *team.CurrentMemberID, team.ID).
			Take(&member).Error
		if errFind == nil {
			return &member, false, nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failover: load current member: %w", errFind)
		}
		// Dangling pointer; fall through to bootstrap.
	}

	candidate, errNext := m.nextEligibleMember(ctx, team.ID, 0)
	if errNext != nil {
		return nil, false, errNext
	}
	if candidate == nil {
		return nil, false, nil
	}

	errTx := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errPromote := tx.Model(&models.TeamMember{}).
			Where("id = ?", candidate.ID).
			Updates(map[string]any{
				"is_current": true,
				"enabled_at": now,
				"updated_at": now,
			}).Error; errPromote != nil {
			return errPromote
		}
		return tx.Model(&models.TeamConfig{}).
			Where("id = ?", team.ID).
			Updates(map[string]any{
				"current_member_id": candidate.ID,
				"updated_at":        now,
			}).Error
	})
	if errTx != nil {
		return nil, false, fmt.Errorf("failover: bootstrap member: %w", errTx)
	}
	candidate.IsCurrent = true
	team.CurrentMemberID = &candidate.ID
	return candidate, true, nil
}

// memberCredits queries the member's balance, lazily fetching a missing API
// key. A key rejected by the service is refreshed once before giving up.
func (m *Monitor) memberCredits(ctx context.Context, member *models.TeamMember) (int, error) {
	if m.seat == nil {
		return 0, errors.New("seat service not configured")
	}

	hadStoredKey := member.APIKey != ""
	if member.APIKey == "" {
		if errFetch := m.fetchMemberAPIKey(ctx, member); errFetch != nil {
			return 0, errFetch
		}
	}

	credits, errCredits := m.seat.Credits(ctx, member.APIKey)
	if errCredits == nil {
		return credits, nil
	}

	var authErr *seatapi.AuthError
	if hadStoredKey && errors.As(errCredits, &authErr) && authErr.Kind == seatapi.KindInvalidCredentials {
		// The stored key went stale; refresh and retry once.
		if errFetch := m.fetchMemberAPIKey(ctx, member); errFetch != nil {
			return 0, errFetch
		}
		return m.seat.Credits(ctx, member.APIKey)
	}
	return 0, errCredits
}

func (m *Monitor) fetchMemberAPIKey(ctx context.Context, member *models.TeamMember) error {
	apiKey, errLogin := m.seat.LoginAndCreateAPIKey(ctx, member.Email, member.Password)
	if errLogin != nil {
		return errLogin
	}
	if errSave := m.db.WithContext(ctx).Model(&models.TeamMember{}).
		Where("id = ?", member.ID).
		Update("api_key", apiKey).Error; errSave != nil {
		return errSave
	}
	member.APIKey = apiKey
	return nil
}

// TeamCredits returns the team's balance as seen by the team admin account.
// The login token and API key are cached on the team row; a credential the
// service rejects is refreshed once through a fresh login.
func (m *Monitor) TeamCredits(ctx context.Context, teamID uint64) (int, error) {
	var team models.TeamConfig
	errFind := m.db.WithContext(ctx).Take(&team, teamID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, ErrTeamNotFound
	}
	if errFind != nil {
		return 0, fmt.Errorf("failover: load team: %w", errFind)
	}
	if m.seat == nil {
		return 0, errors.New("seat service not configured")
	}

	credential := team.AdminAPIKey
	if credential == "" {
		credential = team.AdminToken
	}
	if credential != "" {
		credits, errCredits := m.seat.Credits(ctx, credential)
		if errCredits == nil {
			return credits, nil
		}
		var authErr *seatapi.AuthError
		if !errors.As(errCredits, &authErr) || authErr.Kind != seatapi.KindInvalidCredentials {
			return 0, &TransientError{TeamID: team.ID, Email: team.AdminEmail, Err: errCredits}
		}
		// Cached credential went stale; log in again below.
	}

	if errFetch := m.fetchAdminCredentials(ctx, &team); errFetch != nil {
		return 0, &TransientError{TeamID: team.ID, Email: team.AdminEmail, Err: errFetch}
	}
	credits, errCredits := m.seat.Credits(ctx, team.AdminAPIKey)
	if errCredits != nil {
		return 0, &TransientError{TeamID: team.ID, Email: team.AdminEmail, Err: errCredits}
	}
	return credits, nil
}

// fetchAdminCredentials logs in as the team admin and persists the fresh
// token and API key on the team row.
func (m *Monitor) fetchAdminCredentials(ctx context.Context, team *models.TeamConfig) error {
	token, errLogin := m.seat.Login(ctx, team.AdminEmail, team.AdminPassword)
	if errLogin != nil {
		return errLogin
	}
	apiKey, errExchange := m.seat.ExchangeAPIKey(ctx, token)
	if errExchange != nil {
		return errExchange
	}
	if errSave := m.db.WithContext(ctx).Model(&models.TeamConfig{}).
		Where("id = ?", team.ID).
		Updates(map[string]any{"admin_token": token, "admin_api_key": apiKey}).Error; errSave != nil {
		return errSave
	}
	team.AdminToken = token
	team.AdminAPIKey = apiKey
	return nil
}

// refreshObservation persists the observed balance and check timestamps.
func (m *Monitor) refreshObservation(ctx context.Context, team *models.TeamConfig, member *models.TeamMember, credits int, now time.Time) error {
	errTx := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errMember := tx.Model(&models.TeamMember{}).
			Where("id = ?", member.ID).
			Updates(map[string]any{
				"last_credits":  credits,
				"last_check_at": now,
				"updated_at":    now,
			}).Error; errMember != nil {
			return errMember
		}
		return tx.Model(&models.TeamConfig{}).
			Where("id = ?", team.ID).
			Updates(map[string]any{
				"last_check_at": now,
				"updated_at":    now,
			}).Error
	})
	if errTx != nil {
		return fmt.Errorf("failover: record observation: %w", errTx)
	}
	member.LastCredits = credits
	return nil
}

// nextEligibleMember returns the lowest-sort-order enabled, non-exhausted
// member excluding the given one, or nil when none remains. No wraparound:
// exhausted members stay out until an admin resets them.
func (m *Monitor) nextEligibleMember(ctx context.Context, teamID, excludeID uint64) (*models.TeamMember, error) {
	query := m.db.WithContext(ctx).
		Where("team_id = ? AND is_enabled = ? AND is_exhausted = ?", teamID, true, false).
		Order("sort_order ASC, id ASC")
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var member models.TeamMember
	errFind := query.Take(&member).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("failover: select next member: %w", errFind)
	}
	return &member, nil
}

// switchMembers demotes the exhausted member, promotes the replacement, and
// appends the history row in one transaction. The demotion is guarded on
// is_current so a racing check cannot double-switch.
func (m *Monitor) switchMembers(ctx context.Context, team *models.TeamConfig, from, to *models.TeamMember, creditsBefore int, now time.Time) error {
	errTx := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TeamMember{}).
			Where("id = ? AND is_current = ?", from.ID, true).
			Updates(map[string]any{
				"is_current":   false,
				"is_exhausted": true,
				"disabled_at":  now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("current member changed under us")
		}
		if errPromote := tx.Model(&models.TeamMember{}).
			Where("id = ?", to.ID).
			Updates(map[string]any{
				"is_current": true,
				"enabled_at": now,
				"updated_at": now,
			}).Error; errPromote != nil {
			return errPromote
		}
		if errTeam := tx.Model(&models.TeamConfig{}).
			Where("id = ?", team.ID).
			Updates(map[string]any{
				"current_member_id": to.ID,
				"last_switch_at":    now,
				"switch_count":      gorm.Expr("switch_count + 1"),
				"updated_at":        now,
			}).Error; errTeam != nil {
			return errTeam
		}
		history := models.SwitchHistory{
			TeamID:        team.ID,
			FromMemberID:  &from.ID,
			FromEmail:     &from.Email,
			ToMemberID:    to.ID,
			ToEmail:       to.Email,
			Reason:        models.SwitchReasonCreditsExhausted,
			CreditsBefore: &creditsBefore,
			SwitchedAt:    now,
		}
		return tx.Create(&history).Error
	})
	if errTx != nil {
		return fmt.Errorf("failover: switch members: %w", errTx)
	}
	return nil
}

// exhaustWithoutReplacement demotes the last member and clears the team's
// current pointer. No history row: there is no promoted member to record.
func (m *Monitor) exhaustWithoutReplacement(ctx context.Context, team *models.TeamConfig, from *models.TeamMember, now time.Time) error {
	errTx := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDemote := tx.Model(&models.TeamMember{}).
			Where("id = ? AND is_current = ?", from.ID, true).
			Updates(map[string]any{
				"is_current":   false,
				"is_exhausted": true,
				"disabled_at":  now,
				"updated_at":   now,
			}).Error; errDemote != nil {
			return errDemote
		}
		return tx.Model(&models.TeamConfig{}).
			Where("id = ?", team.ID).
			Updates(map[string]any{
				"current_member_id": nil,
				"updated_at":        now,
			}).Error
	})
	if errTx != nil {
		return fmt.Errorf("failover: exhaust team: %w", errTx)
	}
	return nil
}
