package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/ziling35/accountpool/internal/db"
	"github.com/ziling35/accountpool/internal/models"
	"github.com/ziling35/accountpool/internal/settings"
)

func newVersionRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if errOpen != nil {
		t.Fatalf("open database: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate database: %v", errMigrate)
	}

	if errClear := conn.Where("key = ?", settings.MinClientVersionKey).Delete(&models.Setting{}).Error; errClear != nil {
		t.Fatalf("clear setting: %v", errClear)
	}
	setting := models.Setting{
		Key:   settings.MinClientVersionKey,
		Value: datatypes.JSON(`"2.1.0"`),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		t.Fatalf("seed setting: %v", errCreate)
	}
	if errRefresh := settings.Refresh(context.Background(), conn); errRefresh != nil {
		t.Fatalf("refresh settings: %v", errRefresh)
	}
	t.Cleanup(func() {
		if errClear := conn.Where("1 = 1").Delete(&models.Setting{}).Error; errClear != nil {
			t.Fatalf("clear settings: %v", errClear)
		}
		if errRefresh := settings.Refresh(context.Background(), conn); errRefresh != nil {
			t.Fatalf("reset settings snapshot: %v", errRefresh)
		}
	})

	router := gin.New()
	router.GET("/api/client/version", NewVersionHandler().Get)
	return router
}

type versionResponse struct {
	ServerVersion    string  `json:"server_version"`
	MinClientVersion string  `json:"min_client_version"`
	UpdateRequired   bool    `json:"update_required"`
	UpdateMessage    *string `json:"update_message"`
}

func TestVersionGet_UpdateGate(t *testing.T) {
	router := newVersionRouter(t)

	cases := []struct {
		name         string
		query        string
		wantRequired bool
	}{
		{"older patch", "?client_version=2.0.9", true},
		{"exact minimum", "?client_version=2.1.0", false},
		{"newer major", "?client_version=3.0", false},
		{"shorter prefix", "?client_version=2.1", true},
		{"garbage version", "?client_version=abc", true},
		{"missing param defaults low", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/client/version"+tc.query, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var body versionResponse
			if errDecode := json.Unmarshal(rec.Body.Bytes(), &body); errDecode != nil {
				t.Fatalf("decode response: %v", errDecode)
			}
			if body.MinClientVersion != "2.1.0" {
				t.Fatalf("expected min version 2.1.0, got %q", body.MinClientVersion)
			}
			if body.UpdateRequired != tc.wantRequired {
				t.Fatalf("expected update_required=%v, got %v", tc.wantRequired, body.UpdateRequired)
			}
			if tc.wantRequired && (body.UpdateMessage == nil || *body.UpdateMessage == "") {
				t.Fatalf("expected update message for outdated client")
			}
			if !tc.wantRequired && body.UpdateMessage != nil {
				t.Fatalf("expected no update message, got %q", *body.UpdateMessage)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0", "1.0.1", -1},
		{"2.0", "2.0.0", -1},
		{"10.0.0", "9.9.9", 1},
		{"bogus", "0.0.1", -1},
	}
	for _, tc := range cases {
		if got := compareVersions(tc.a, tc.b); got != tc.want {
			t.Fatalf("compareVersions(%q, %q) = %d, expected %d", tc.a, tc.b, got, tc.want)
		}
	}
}
