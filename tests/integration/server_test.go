package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/assignments"
	"github.com/jmcentee/fleethub/pkg/fleethub/auth"
	"github.com/jmcentee/fleethub/pkg/fleethub/devices"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
	"github.com/jmcentee/fleethub/pkg/fleethub/policy"
	"github.com/jmcentee/fleethub/pkg/fleethub/users"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// setupFullServer creates a Gin engine with all routes registered.
// This mirrors the setup in cmd/fleethub-server/main.go
func setupFullServer(db *gorm.DB, tokens *auth.Tokens) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	gate := policy.NewGate(db)

	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			dbStatus = "unreachable"
		}
		c.JSON(200, gin.H{"status": "ok", "service": "fleethub", "database": dbStatus})
	})

	api := r.Group("/api/v1")

	authHandler := auth.NewHandler(db, tokens)
	authHandler.RegisterRoutes(api.Group("/auth"))

	authed := api.Group("", auth.Middleware(tokens, db))
	admin := auth.RequireAdmin()
	superAdmin := auth.RequireSuperAdmin()

	usersHandler := users.NewHandler(users.NewService(db), gate)
	usersGroup := authed.Group("/users")
	usersHandler.RegisterRoutes(usersGroup, admin, superAdmin)

	devicesHandler := devices.NewHandler(devices.NewService(db))
	devicesHandler.RegisterRoutes(authed.Group("/devices"), admin)

	assignmentsHandler := assignments.NewHandler(
		assignments.NewLedger(db),
		assignments.NewOrchestrator(db),
		gate,
	)
	assignmentsHandler.RegisterRoutes(authed.Group("/assignments"), admin)
	assignmentsHandler.RegisterUserRoutes(usersGroup, admin)

	return r
}

func testTokens() *auth.Tokens {
	return auth.NewTokens("integration-test-secret", time.Hour)
}

// registerUser registers a user via the API and returns its token and id
func registerUser(t *testing.T, router *gin.Engine, email string) (string, uint) {
	t.Helper()
	body := map[string]string{"email": email, "password": "password123", "name": "Test User"}
	jsonBody, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", "/api/v1/auth/register", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("Failed to register user: %d %s", resp.Code, resp.Body.String())
	}

	var response struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	json.Unmarshal(resp.Body.Bytes(), &response)
	return response.Token, response.User.ID
}

func doJSON(router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		buf = bytes.NewBuffer(jsonBody)
	} else {
		buf = bytes.NewBuffer(nil)
	}
	req, _ := http.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

// TestServerStartup verifies that all routes can be registered without
// conflicts. This test would fail if there are route parameter
// conflicts (like :id vs :userId on sibling routes)
func TestServerStartup(t *testing.T) {
	db := setupTestDB(t)

	// This will panic if there are route conflicts
	router := setupFullServer(db, testTokens())

	if router == nil {
		t.Fatal("Expected router to be created")
	}
}

// TestHealthEndpoint verifies the health endpoint responds correctly
func TestHealthEndpoint(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(db, testTokens())

	req, _ := http.NewRequest("GET", "/health", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.Code)
	}
}

// TestProtectedEndpointsRequireAuth verifies that protected endpoints return 401 without auth
func TestProtectedEndpointsRequireAuth(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(db, testTokens())

	protectedEndpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/devices"},
		{"POST", "/api/v1/devices"},
		{"GET", "/api/v1/users"},
		{"POST", "/api/v1/assignments"},
		{"GET", "/api/v1/devices/my-devices"},
	}

	for _, endpoint := range protectedEndpoints {
		t.Run(endpoint.method+" "+endpoint.path, func(t *testing.T) {
			req, _ := http.NewRequest(endpoint.method, endpoint.path, nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			if resp.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401 for %s %s, got %d", endpoint.method, endpoint.path, resp.Code)
			}
		})
	}
}

// TestAdminEndpointsRequireAdminRole verifies that a regular user gets
// 403 on admin-gated routes
func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(db, testTokens())
	token, _ := registerUser(t, router, "user@example.com")

	adminEndpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/devices"},
		{"DELETE", "/api/v1/devices/1"},
		{"GET", "/api/v1/users"},
		{"POST", "/api/v1/assignments"},
	}

	for _, endpoint := range adminEndpoints {
		t.Run(endpoint.method+" "+endpoint.path, func(t *testing.T) {
			resp := doJSON(router, endpoint.method, endpoint.path, token, nil)
			if resp.Code != http.StatusForbidden {
				t.Errorf("Expected status 403 for %s %s, got %d", endpoint.method, endpoint.path, resp.Code)
			}
		})
	}
}

// promoteToAdmin flips a registered user's role directly in storage.
// The middleware re-reads the user per request, so the existing token
// picks up the new capability.
func promoteToAdmin(t *testing.T, db *gorm.DB, userID uint) {
	t.Helper()
	if err := db.Model(&models.User{}).Where("id = ?", userID).Update("role", models.RoleAdmin).Error; err != nil {
		t.Fatalf("Failed to promote user: %v", err)
	}
}

// TestAssignmentFlow walks the full assign/unassign cycle over HTTP and
// checks that the device, the ledger, and the user's cached set agree
// at every step
func TestAssignmentFlow(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(db, testTokens())

	adminToken, adminID := registerUser(t, router, "admin@example.com")
	promoteToAdmin(t, db, adminID)
	_, userID := registerUser(t, router, "user@example.com")

	// Create a device
	resp := doJSON(router, "POST", "/api/v1/devices", adminToken, map[string]interface{}{
		"device_code": "DEV-001",
		"name":        "Warehouse Sensor",
		"type":        "sensor",
		"mac_address": "AA:BB:CC:DD:EE:01",
		"location":    "warehouse-1",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Failed to create device: %d %s", resp.Code, resp.Body.String())
	}
	var device models.Device
	json.Unmarshal(resp.Body.Bytes(), &device)

	// Assign it to the user
	resp = doJSON(router, "POST", fmt.Sprintf("/api/v1/users/%d/devices/%d", userID, device.ID), adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Failed to assign device: %d %s", resp.Code, resp.Body.String())
	}

	// All three representations agree
	var stored models.Device
	db.First(&stored, device.ID)
	if stored.AssignedUserID == nil || *stored.AssignedUserID != userID {
		t.Errorf("Expected device owner %d, got %v", userID, stored.AssignedUserID)
	}
	var entries int64
	db.Model(&models.Assignment{}).Where("device_id = ?", device.ID).Count(&entries)
	if entries != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", entries)
	}
	var owner models.User
	db.First(&owner, userID)
	if !owner.AssignedDevices.Contains(device.ID) {
		t.Errorf("Expected user's device set to contain %d", device.ID)
	}

	// A second assign to another user conflicts
	_, otherID := registerUser(t, router, "other@example.com")
	resp = doJSON(router, "POST", fmt.Sprintf("/api/v1/users/%d/devices/%d", otherID, device.ID), adminToken, nil)
	if resp.Code != http.StatusConflict {
		t.Errorf("Expected 409 for already-assigned device, got %d", resp.Code)
	}

	// Unassign returns the device to the pool
	resp = doJSON(router, "DELETE", fmt.Sprintf("/api/v1/users/%d/devices/%d", userID, device.ID), adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Failed to unassign device: %d %s", resp.Code, resp.Body.String())
	}

	db.First(&stored, device.ID)
	if stored.AssignedUserID != nil {
		t.Error("Expected device to be unowned after unassign")
	}
	db.Model(&models.Assignment{}).Where("device_id = ?", device.ID).Count(&entries)
	if entries != 0 {
		t.Errorf("Expected no ledger entries after unassign, got %d", entries)
	}
}

// TestListAssignmentsScoping verifies a user can read their own
// assignments but not another user's
func TestListAssignmentsScoping(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(db, testTokens())

	userToken, userID := registerUser(t, router, "user@example.com")
	_, otherID := registerUser(t, router, "other@example.com")

	resp := doJSON(router, "GET", fmt.Sprintf("/api/v1/assignments/user/%d", userID), userToken, nil)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected 200 for own assignments, got %d", resp.Code)
	}

	resp = doJSON(router, "GET", fmt.Sprintf("/api/v1/assignments/user/%d", otherID), userToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for another user's assignments, got %d", resp.Code)
	}
}

// TestSubUserRoutes verifies a parent can create and delete sub-users
// through the API without an admin role
func TestSubUserRoutes(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(db, testTokens())

	parentToken, parentID := registerUser(t, router, "parent@example.com")
	strangerToken, _ := registerUser(t, router, "stranger@example.com")

	resp := doJSON(router, "POST", fmt.Sprintf("/api/v1/users/%d/sub-users", parentID), parentToken, map[string]string{
		"name":     "Sub User",
		"email":    "sub@example.com",
		"password": "password123",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Failed to create sub-user: %d %s", resp.Code, resp.Body.String())
	}
	var sub struct {
		ID uint `json:"id"`
	}
	json.Unmarshal(resp.Body.Bytes(), &sub)

	// A stranger cannot list the parent's sub-users
	resp = doJSON(router, "GET", fmt.Sprintf("/api/v1/users/%d/sub-users", parentID), strangerToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for stranger, got %d", resp.Code)
	}

	// The parent can
	resp = doJSON(router, "GET", fmt.Sprintf("/api/v1/users/%d/sub-users", parentID), parentToken, nil)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected 200 for parent, got %d", resp.Code)
	}

	// And can delete the sub-user
	resp = doJSON(router, "DELETE", fmt.Sprintf("/api/v1/users/%d/sub-users/%d", parentID, sub.ID), parentToken, nil)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected 200 for sub-user delete, got %d: %s", resp.Code, resp.Body.String())
	}
}

// TestBulkAssignEndpoint verifies the bulk path is all-or-nothing and
// names the ids that blocked it
func TestBulkAssignEndpoint(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(db, testTokens())

	adminToken, adminID := registerUser(t, router, "admin@example.com")
	promoteToAdmin(t, db, adminID)
	_, userID := registerUser(t, router, "user@example.com")

	var deviceIDs []string
	for i := 1; i <= 3; i++ {
		resp := doJSON(router, "POST", "/api/v1/devices", adminToken, map[string]interface{}{
			"device_code": fmt.Sprintf("DEV-%03d", i),
			"name":        fmt.Sprintf("Sensor %d", i),
			"type":        "sensor",
			"mac_address": fmt.Sprintf("AA:BB:CC:DD:EE:%02d", i),
			"location":    "warehouse-1",
		})
		if resp.Code != http.StatusCreated {
			t.Fatalf("Failed to create device: %d %s", resp.Code, resp.Body.String())
		}
		var d models.Device
		json.Unmarshal(resp.Body.Bytes(), &d)
		deviceIDs = append(deviceIDs, fmt.Sprint(d.ID))
	}

	resp := doJSON(router, "POST", fmt.Sprintf("/api/v1/users/%d/assign-devices", userID), adminToken, map[string]interface{}{
		"device_ids": deviceIDs,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("Bulk assign failed: %d %s", resp.Code, resp.Body.String())
	}

	var owner models.User
	db.First(&owner, userID)
	if len(owner.AssignedDevices) != 3 {
		t.Errorf("Expected 3 devices in set, got %d", len(owner.AssignedDevices))
	}

	// Malformed id in the batch: nothing changes
	resp = doJSON(router, "POST", fmt.Sprintf("/api/v1/users/%d/assign-devices", userID), adminToken, map[string]interface{}{
		"device_ids": []string{"not-a-number"},
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed device id, got %d", resp.Code)
	}
}
