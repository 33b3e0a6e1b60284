package failover

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/db"
	"github.com/ziling35/accountpool/internal/models"
	"github.com/ziling35/accountpool/internal/seatapi"
)

type fakeSeat struct {
	credits         map[string]int
	creditsErr      error
	rejectKeys      map[string]bool
	loginKeys       map[string]string
	loginErr        error
	loginCalls      int
	adminLoginCalls int
	exchangeKey     string
}

func (f *fakeSeat) Login(ctx context.Context, email, password string) (string, error) {
	f.adminLoginCalls++
	return "token", f.loginErr
}

func (f *fakeSeat) ExchangeAPIKey(ctx context.Context, token string) (string, error) {
	return f.exchangeKey, nil
}

func (f *fakeSeat) Credits(ctx context.Context, apiKeyOrToken string) (int, error) {
	if f.rejectKeys[apiKeyOrToken] {
		return 0, &seatapi.AuthError{Kind: seatapi.KindInvalidCredentials, Message: "invalid key"}
	}
	if f.creditsErr != nil {
		return 0, f.creditsErr
	}
	return f.credits[apiKeyOrToken], nil
}

func (f *fakeSeat) LoginAndCreateAPIKey(ctx context.Context, email, password string) (string, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return "", f.loginErr
	}
	if key, ok := f.loginKeys[email]; ok {
		return key, nil
	}
	return "sk-" + email, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if errOpen != nil {
		t.Fatalf("open database: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate database: %v", errMigrate)
	}
	return conn
}

func seedTeam(t *testing.T, conn *gorm.DB, threshold int) *models.TeamConfig {
	t.Helper()
	team := &models.TeamConfig{
		Name:                 "team-a",
		KeyCode:              "teamkey0123456789abcdef0123456789",
		AdminEmail:           "admin@example.com",
		AdminPassword:        "secret",
		IsActive:             true,
		CreditsThreshold:     threshold,
		CheckIntervalMinutes: 5,
	}
	if errCreate := conn.Create(team).Error; errCreate != nil {
		t.Fatalf("seed team: %v", errCreate)
	}
	return team
}

func seedMember(t *testing.T, conn *gorm.DB, teamID uint64, email string, sortOrder int, current bool) *models.TeamMember {
	t.Helper()
	member := &models.TeamMember{
		TeamID:    teamID,
		Email:     email,
		Password:  "secret",
		APIKey:    "sk-" + email,
		IsEnabled: true,
		IsCurrent: current,
		SortOrder: sortOrder,
	}
	if errCreate := conn.Create(member).Error; errCreate != nil {
		t.Fatalf("seed member: %v", errCreate)
	}
	if current {
		if errPoint := conn.Model(&models.TeamConfig{}).
			Where("id = ?", teamID).
			Update("current_member_id", member.ID).Error; errPoint != nil {
			t.Fatalf("point team at member: %v", errPoint)
		}
	}
	return member
}

func newTestMonitor(t *testing.T, seat seatapi.Service, now time.Time) (*Monitor, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	monitor := NewMonitor(conn, seat)
	monitor.now = func() time.Time { return now }
	return monitor, conn
}

func TestCheck_SwitchesOnExhaustedCredits(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{credits: map[string]int{"sk-a@example.com": 15, "sk-b@example.com": 100}}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	memberA := seedMember(t, conn, team.ID, "a@example.com", 1, true)
	memberB := seedMember(t, conn, team.ID, "b@example.com", 2, false)

	result, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if result.Action != ActionSwitched {
		t.Fatalf("expected switched, got %s", result.Action)
	}
	if result.MemberID != memberB.ID {
		t.Fatalf("expected member B current, got %d", result.MemberID)
	}
	if result.Credits != 15 {
		t.Fatalf("expected observed credits 15, got %d", result.Credits)
	}

	var reloadedA, reloadedB models.TeamMember
	if errFind := conn.Take(&reloadedA, memberA.ID).Error; errFind != nil {
		t.Fatalf("reload member A: %v", errFind)
	}
	if errFind := conn.Take(&reloadedB, memberB.ID).Error; errFind != nil {
		t.Fatalf("reload member B: %v", errFind)
	}
	if reloadedA.IsCurrent || !reloadedA.IsExhausted {
		t.Fatalf("expected A demoted+exhausted, got current=%v exhausted=%v", reloadedA.IsCurrent, reloadedA.IsExhausted)
	}
	if reloadedA.DisabledAt == nil {
		t.Fatalf("expected A disabled_at set")
	}
	if !reloadedB.IsCurrent || reloadedB.IsExhausted {
		t.Fatalf("expected B current, got current=%v exhausted=%v", reloadedB.IsCurrent, reloadedB.IsExhausted)
	}

	var reloadedTeam models.TeamConfig
	if errFind := conn.Take(&reloadedTeam, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if reloadedTeam.CurrentMemberID == nil || *reloadedTeam.CurrentMemberID != memberB.ID {
		t.Fatalf("expected team pointing at B, got %v", reloadedTeam.CurrentMemberID)
	}
	if reloadedTeam.SwitchCount != 1 {
		t.Fatalf("expected switch count 1, got %d", reloadedTeam.SwitchCount)
	}
	if reloadedTeam.LastSwitchAt == nil {
		t.Fatalf("expected last_switch_at set")
	}

	var history []models.SwitchHistory
	if errFind := conn.Where("team_id = ?", team.ID).Find(&history).Error; errFind != nil {
		t.Fatalf("load history: %v", errFind)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one history row, got %d", len(history))
	}
	row := history[0]
	if row.Reason != models.SwitchReasonCreditsExhausted {
		t.Fatalf("expected reason credits_exhausted, got %s", row.Reason)
	}
	if row.CreditsBefore == nil || *row.CreditsBefore != 15 {
		t.Fatalf("expected credits_before 15, got %v", row.CreditsBefore)
	}
	if row.FromMemberID == nil || *row.FromMemberID != memberA.ID || row.ToMemberID != memberB.ID {
		t.Fatalf("unexpected history row: %+v", row)
	}
}

func TestCheck_NoActionAboveThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{credits: map[string]int{"sk-a@example.com": 50}}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	member := seedMember(t, conn, team.ID, "a@example.com", 1, true)

	result, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if result.Action != ActionNoAction {
		t.Fatalf("expected no_action, got %s", result.Action)
	}

	var reloaded models.TeamMember
	if errFind := conn.Take(&reloaded, member.ID).Error; errFind != nil {
		t.Fatalf("reload member: %v", errFind)
	}
	if reloaded.LastCredits != 50 {
		t.Fatalf("expected last_credits refreshed to 50, got %d", reloaded.LastCredits)
	}
	if reloaded.LastCheckAt == nil || !reloaded.LastCheckAt.Equal(now) {
		t.Fatalf("expected last_check_at %v, got %v", now, reloaded.LastCheckAt)
	}
	if !reloaded.IsCurrent || reloaded.IsExhausted {
		t.Fatalf("expected member untouched, got current=%v exhausted=%v", reloaded.IsCurrent, reloaded.IsExhausted)
	}
}

func TestCheck_AllMembersExhausted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{credits: map[string]int{"sk-a@example.com": 10}}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	member := seedMember(t, conn, team.ID, "a@example.com", 1, true)

	result, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if result.Action != ActionAllExhausted {
		t.Fatalf("expected all_exhausted, got %s", result.Action)
	}

	var reloadedTeam models.TeamConfig
	if errFind := conn.Take(&reloadedTeam, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if reloadedTeam.CurrentMemberID != nil {
		t.Fatalf("expected no current member, got %v", reloadedTeam.CurrentMemberID)
	}

	var reloaded models.TeamMember
	if errFind := conn.Take(&reloaded, member.ID).Error; errFind != nil {
		t.Fatalf("reload member: %v", errFind)
	}
	if reloaded.IsCurrent || !reloaded.IsExhausted {
		t.Fatalf("expected member demoted+exhausted, got current=%v exhausted=%v", reloaded.IsCurrent, reloaded.IsExhausted)
	}

	var historyCount int64
	if errCount := conn.Model(&models.SwitchHistory{}).Where("team_id = ?", team.ID).Count(&historyCount).Error; errCount != nil {
		t.Fatalf("count history: %v", errCount)
	}
	if historyCount != 0 {
		t.Fatalf("expected no history row without a promotion, got %d", historyCount)
	}
}

func TestCheck_TransientFailureMutatesNothing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{creditsErr: &seatapi.AuthError{Kind: seatapi.KindNetwork, Message: "timeout"}}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	member := seedMember(t, conn, team.ID, "a@example.com", 1, true)
	if errSeed := conn.Model(member).Update("last_credits", 77).Error; errSeed != nil {
		t.Fatalf("seed last_credits: %v", errSeed)
	}

	_, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	var transient *TransientError
	if !errors.As(errCheck, &transient) {
		t.Fatalf("expected transient error, got %v", errCheck)
	}

	var reloaded models.TeamMember
	if errFind := conn.Take(&reloaded, member.ID).Error; errFind != nil {
		t.Fatalf("reload member: %v", errFind)
	}
	if !reloaded.IsCurrent || reloaded.IsExhausted {
		t.Fatalf("expected member untouched, got current=%v exhausted=%v", reloaded.IsCurrent, reloaded.IsExhausted)
	}
	if reloaded.LastCredits != 77 {
		t.Fatalf("expected last_credits unchanged, got %d", reloaded.LastCredits)
	}
}

func TestCheck_BootstrapsCurrentMember(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{credits: map[string]int{"sk-a@example.com": 50}}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	member := seedMember(t, conn, team.ID, "a@example.com", 1, false)
	seedMember(t, conn, team.ID, "b@example.com", 2, false)

	result, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if result.Action != ActionBootstrapped {
		t.Fatalf("expected bootstrapped, got %s", result.Action)
	}
	if result.MemberID != member.ID {
		t.Fatalf("expected lowest sort order promoted, got %d", result.MemberID)
	}

	var reloadedTeam models.TeamConfig
	if errFind := conn.Take(&reloadedTeam, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if reloadedTeam.CurrentMemberID == nil || *reloadedTeam.CurrentMemberID != member.ID {
		t.Fatalf("expected team pointing at bootstrapped member, got %v", reloadedTeam.CurrentMemberID)
	}
	if reloadedTeam.SwitchCount != 0 {
		t.Fatalf("bootstrap must not count as a switch, got %d", reloadedTeam.SwitchCount)
	}
}

func TestCheck_BootstrapBelowThresholdDefersSwitch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{credits: map[string]int{"sk-a@example.com": 5, "sk-b@example.com": 100}}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	memberA := seedMember(t, conn, team.ID, "a@example.com", 1, false)
	memberB := seedMember(t, conn, team.ID, "b@example.com", 2, false)

	result, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if result.Action != ActionBootstrapped {
		t.Fatalf("expected bootstrapped, got %s", result.Action)
	}
	if result.MemberID != memberA.ID {
		t.Fatalf("expected bootstrapped member current, got %d", result.MemberID)
	}

	var reloadedA models.TeamMember
	if errFind := conn.Take(&reloadedA, memberA.ID).Error; errFind != nil {
		t.Fatalf("reload member A: %v", errFind)
	}
	if !reloadedA.IsCurrent || reloadedA.IsExhausted {
		t.Fatalf("expected A current after bootstrap, got current=%v exhausted=%v", reloadedA.IsCurrent, reloadedA.IsExhausted)
	}

	var reloadedTeam models.TeamConfig
	if errFind := conn.Take(&reloadedTeam, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if reloadedTeam.SwitchCount != 0 {
		t.Fatalf("expected no switch on the bootstrapping check, got count %d", reloadedTeam.SwitchCount)
	}
	var historyCount int64
	if errCount := conn.Model(&models.SwitchHistory{}).Where("team_id = ?", team.ID).Count(&historyCount).Error; errCount != nil {
		t.Fatalf("count history: %v", errCount)
	}
	if historyCount != 0 {
		t.Fatalf("expected no history row on the bootstrapping check, got %d", historyCount)
	}

	second, errSecond := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errSecond != nil {
		t.Fatalf("second check: %v", errSecond)
	}
	if second.Action != ActionSwitched {
		t.Fatalf("expected switched on the following check, got %s", second.Action)
	}
	if second.MemberID != memberB.ID {
		t.Fatalf("expected member B current, got %d", second.MemberID)
	}
}

func TestCheck_InactiveTeamSkipped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	seedMember(t, conn, team.ID, "a@example.com", 1, true)
	if errDeactivate := conn.Model(team).Update("is_active", false).Error; errDeactivate != nil {
		t.Fatalf("deactivate team: %v", errDeactivate)
	}

	result, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if result.Action != ActionNoAction {
		t.Fatalf("expected no_action for inactive team, got %s", result.Action)
	}
	if seat.loginCalls != 0 {
		t.Fatalf("expected no seat calls for inactive team, got %d", seat.loginCalls)
	}
}

func TestCheck_UnknownTeam(t *testing.T) {
	monitor, _ := newTestMonitor(t, &fakeSeat{}, time.Now())
	_, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), 12345)
	if !errors.Is(errCheck, ErrTeamNotFound) {
		t.Fatalf("expected team not found, got %v", errCheck)
	}
}

func TestCheck_LazyMemberAPIKeyPersists(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{
		credits:   map[string]int{"sk-fresh": 50},
		loginKeys: map[string]string{"a@example.com": "sk-fresh"},
	}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	member := seedMember(t, conn, team.ID, "a@example.com", 1, true)
	if errClear := conn.Model(member).Update("api_key", "").Error; errClear != nil {
		t.Fatalf("clear api key: %v", errClear)
	}

	result, errCheck := monitor.CheckAndMaybeSwitch(context.Background(), team.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if result.Action != ActionNoAction {
		t.Fatalf("expected no_action, got %s", result.Action)
	}
	if seat.loginCalls != 1 {
		t.Fatalf("expected one login, got %d", seat.loginCalls)
	}

	var reloaded models.TeamMember
	if errFind := conn.Take(&reloaded, member.ID).Error; errFind != nil {
		t.Fatalf("reload member: %v", errFind)
	}
	if reloaded.APIKey != "sk-fresh" {
		t.Fatalf("expected api key persisted, got %q", reloaded.APIKey)
	}
}

func TestTeamCredits_CachesAdminCredentials(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{
		credits:     map[string]int{"sk-admin": 42},
		exchangeKey: "sk-admin",
	}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)

	credits, errCredits := monitor.TeamCredits(context.Background(), team.ID)
	if errCredits != nil {
		t.Fatalf("team credits: %v", errCredits)
	}
	if credits != 42 {
		t.Fatalf("expected 42 credits, got %d", credits)
	}
	if seat.adminLoginCalls != 1 {
		t.Fatalf("expected one admin login, got %d", seat.adminLoginCalls)
	}

	var reloaded models.TeamConfig
	if errFind := conn.Take(&reloaded, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if reloaded.AdminToken != "token" || reloaded.AdminAPIKey != "sk-admin" {
		t.Fatalf("expected admin credentials persisted, got token=%q key=%q", reloaded.AdminToken, reloaded.AdminAPIKey)
	}

	credits, errCredits = monitor.TeamCredits(context.Background(), team.ID)
	if errCredits != nil {
		t.Fatalf("second team credits: %v", errCredits)
	}
	if credits != 42 {
		t.Fatalf("expected 42 credits on cached key, got %d", credits)
	}
	if seat.adminLoginCalls != 1 {
		t.Fatalf("expected cached key to skip login, got %d logins", seat.adminLoginCalls)
	}
}

func TestTeamCredits_RefreshesRejectedAdminKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{
		credits:     map[string]int{"sk-new": 9},
		rejectKeys:  map[string]bool{"sk-old": true},
		exchangeKey: "sk-new",
	}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	if errSeed := conn.Model(team).Updates(map[string]any{
		"admin_token":   "stale-token",
		"admin_api_key": "sk-old",
	}).Error; errSeed != nil {
		t.Fatalf("seed stale credentials: %v", errSeed)
	}

	credits, errCredits := monitor.TeamCredits(context.Background(), team.ID)
	if errCredits != nil {
		t.Fatalf("team credits: %v", errCredits)
	}
	if credits != 9 {
		t.Fatalf("expected 9 credits after refresh, got %d", credits)
	}
	if seat.adminLoginCalls != 1 {
		t.Fatalf("expected one refresh login, got %d", seat.adminLoginCalls)
	}

	var reloaded models.TeamConfig
	if errFind := conn.Take(&reloaded, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if reloaded.AdminAPIKey != "sk-new" {
		t.Fatalf("expected refreshed admin key persisted, got %q", reloaded.AdminAPIKey)
	}
}

func TestTeamCredits_TransientOnNetworkFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seat := &fakeSeat{creditsErr: &seatapi.AuthError{Kind: seatapi.KindNetwork, Message: "timeout"}}
	monitor, conn := newTestMonitor(t, seat, now)
	team := seedTeam(t, conn, 20)
	if errSeed := conn.Model(team).Update("admin_api_key", "sk-admin").Error; errSeed != nil {
		t.Fatalf("seed admin key: %v", errSeed)
	}

	_, errCredits := monitor.TeamCredits(context.Background(), team.ID)
	var transient *TransientError
	if !errors.As(errCredits, &transient) {
		t.Fatalf("expected transient error, got %v", errCredits)
	}
	if seat.adminLoginCalls != 0 {
		t.Fatalf("expected no refresh on a network failure, got %d logins", seat.adminLoginCalls)
	}
}
