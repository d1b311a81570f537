package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/castplanhq/castplan/internal/cache"
	"github.com/castplanhq/castplan/internal/readiness"
	"github.com/castplanhq/castplan/internal/realtime"
	"github.com/castplanhq/castplan/internal/remote"
	"github.com/castplanhq/castplan/internal/schedule"
	"github.com/castplanhq/castplan/internal/server"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	liveEventID     = "evt-live"
	postEventID     = "evt-post"
	jsonContentType = "application/json"
)

type openChannel struct{}

func (openChannel) State() realtime.ConnState {
	return realtime.StateOpen
}

func TestReconcileAndLocalEditFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:engine_sync?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&cache.CachedRecord{}, &cache.ReadinessFlag{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}
	upcomingCache, err := cache.NewCache(cache.CacheConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build cache: %v", err)
	}

	calendar := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch {
		case request.Method == http.MethodGet && request.URL.Path == "/events":
			writer.Header().Set("Content-Type", jsonContentType)
			_ = json.NewEncoder(writer).Encode(map[string]any{
				"success": true,
				"events": []map[string]string{
					{
						"id":          liveEventID,
						"summary":     "Friday stream",
						"description": "weekly live show",
						"start":       "2026-09-04T20:00:00+09:00",
						"end":         "2026-09-04T22:00:00+09:00",
					},
					{
						"id":          postEventID,
						"summary":     "Highlights",
						"description": "clip upload [castplan:auto-post]",
						"start":       "2026-09-05T10:00:00",
						"end":         "2026-09-05T10:30:00",
					},
				},
			})
		case request.Method == http.MethodPut && strings.HasPrefix(request.URL.Path, "/events/"):
			writer.Header().Set("Content-Type", jsonContentType)
			_ = json.NewEncoder(writer).Encode(map[string]any{"success": true})
		default:
			http.NotFound(writer, request)
		}
	}))
	defer calendar.Close()

	remoteClient, err := remote.NewClient(remote.ClientConfig{
		BaseURL: calendar.URL,
		Logger:  zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build remote client: %v", err)
	}

	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
	scheduleService, err := schedule.NewService(schedule.ServiceConfig{
		Store:      schedule.NewStore(),
		Remote:     remoteClient,
		Cache:      upcomingCache,
		Clock:      func() time.Time { return now },
		Location:   time.UTC,
		IDProvider: schedule.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build schedule service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Schedules: scheduleService,
		Channel:   openChannel{},
		Readiness: readiness.NewTracker(readiness.TrackerConfig{Flags: upcomingCache}),
		Logger:    zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	ctx := context.Background()
	notices, cancelNotices := scheduleService.Dispatcher().Subscribe(ctx)
	defer cancelNotices()

	if err := scheduleService.Reconcile(ctx); err != nil {
		testContext.Fatalf("initial reconcile failed: %v", err)
	}
	select {
	case notice := <-notices:
		if notice.EventType != schedule.ChangeEventReconciled {
			testContext.Fatalf("unexpected notice type: %s", notice.EventType)
		}
	case <-time.After(time.Second):
		testContext.Fatalf("no change notice after reconcile")
	}

	schedules := fetchSchedules(testContext, testServer.URL)
	if len(schedules) != 2 {
		testContext.Fatalf("expected two schedules after reconcile, got %d", len(schedules))
	}
	liveRecordID := schedule.RecordIDForRemote(liveEventID)
	liveRecord, ok := findSchedule(schedules, liveRecordID)
	if !ok {
		testContext.Fatalf("live record missing from %v", schedules)
	}
	if liveRecord.Category != string(schedule.CategoryLiveBroadcast) {
		testContext.Fatalf("expected live-broadcast classification, got %s", liveRecord.Category)
	}
	if liveRecord.StartTime != "20:00" {
		testContext.Fatalf("expected wall-clock start preserved, got %s", liveRecord.StartTime)
	}
	if postRecord, ok := findSchedule(schedules, schedule.RecordIDForRemote(postEventID)); !ok {
		testContext.Fatalf("post record missing")
	} else if postRecord.Category != string(schedule.CategoryAutoPost) {
		testContext.Fatalf("expected auto-post classification, got %s", postRecord.Category)
	} else if strings.Contains(postRecord.Description, "[castplan:") {
		testContext.Fatalf("expected machine tag stripped, got %q", postRecord.Description)
	}

	editBody := `{"title":"Friday stream (extended)","date":"2026-09-04","start_time":"20:00","end_time":"23:00","category":"live-broadcast"}`
	editRequest, _ := http.NewRequest(http.MethodPut, testServer.URL+"/schedules/"+liveRecordID, strings.NewReader(editBody))
	editRequest.Header.Set("Content-Type", jsonContentType)
	editResponse, err := http.DefaultClient.Do(editRequest)
	if err != nil {
		testContext.Fatalf("edit request failed: %v", err)
	}
	defer editResponse.Body.Close()
	if editResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected edit status: %d", editResponse.StatusCode)
	}

	if err := scheduleService.Reconcile(ctx); err != nil {
		testContext.Fatalf("second reconcile failed: %v", err)
	}

	schedules = fetchSchedules(testContext, testServer.URL)
	edited, ok := findSchedule(schedules, liveRecordID)
	if !ok {
		testContext.Fatalf("edited record missing after reconcile")
	}
	if edited.Title != "Friday stream (extended)" {
		testContext.Fatalf("local edit lost on reconcile, got title %q", edited.Title)
	}
	if edited.Origin != string(schedule.OriginLocal) {
		testContext.Fatalf("expected local origin after edit, got %s", edited.Origin)
	}
	if edited.RemoteID != liveEventID {
		testContext.Fatalf("expected remote link preserved, got %q", edited.RemoteID)
	}

	cached, err := upcomingCache.LoadUpcoming(ctx)
	if err != nil {
		testContext.Fatalf("failed to load cached upcoming: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != liveRecordID {
		testContext.Fatalf("expected edited live record in cache, got %#v", cached)
	}
	if cached[0].Title != "Friday stream (extended)" {
		testContext.Fatalf("cache holds stale title %q", cached[0].Title)
	}
}

type schedulePayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Origin      string `json:"origin"`
	RemoteID    string `json:"remote_id"`
}

func fetchSchedules(testContext *testing.T, baseURL string) []schedulePayload {
	testContext.Helper()
	response, err := http.Get(baseURL + "/schedules")
	if err != nil {
		testContext.Fatalf("list request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected list status: %d", response.StatusCode)
	}
	var payload struct {
		Schedules []schedulePayload `json:"schedules"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode list response: %v", err)
	}
	return payload.Schedules
}

func findSchedule(schedules []schedulePayload, recordID string) (schedulePayload, bool) {
	for _, entry := range schedules {
		if entry.ID == recordID {
			return entry, true
		}
	}
	return schedulePayload{}, false
}
