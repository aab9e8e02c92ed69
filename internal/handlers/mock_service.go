package handlers

import (
	"context"
	"net/http"
	"sync"

	fc "facility_console"
	"facility_console/internal/scheduler"
	"facility_console/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockDevices struct {
	listResp    []fc.Device
	listErr     error
	getResp     fc.Device
	getErr      error
	registerErr error
	patchResp   fc.Device
	patchErr    error

	lastScope      string
	lastGetID      string
	lastRegistered fc.Device
	lastPatchID    string
	lastPatch      fc.DevicePatch
}

func (m *mockDevices) List(_ context.Context, scope string) ([]fc.Device, error) {
	m.lastScope = scope
	return m.listResp, m.listErr
}
func (m *mockDevices) Get(_ context.Context, id string) (fc.Device, error) {
	m.lastGetID = id
	return m.getResp, m.getErr
}
func (m *mockDevices) Register(_ context.Context, d fc.Device) (fc.Device, error) {
	m.lastRegistered = d
	if m.registerErr != nil {
		return fc.Device{}, m.registerErr
	}
	return d, nil
}
func (m *mockDevices) Patch(_ context.Context, id string, p fc.DevicePatch) (fc.Device, error) {
	m.lastPatchID = id
	m.lastPatch = p
	return m.patchResp, m.patchErr
}

type mockControl struct {
	mu sync.Mutex

	repairErr    error
	setTargetErr error
	setPowerErr  error
	status       scheduler.RepairStatus
	statusOK     bool
	device       fc.Device
	deviceOK     bool

	lastRepairID string
	lastTargetID string
	lastTarget   float64
	lastPowerID  string
	lastPower    fc.PowerState

	subscriber   func(fc.Device)
	unsubscribed bool
}

func (m *mockControl) Repair(_ context.Context, deviceID string) error {
	m.lastRepairID = deviceID
	return m.repairErr
}
func (m *mockControl) SetTarget(_ context.Context, deviceID string, value float64) error {
	m.lastTargetID = deviceID
	m.lastTarget = value
	return m.setTargetErr
}
func (m *mockControl) SetPower(_ context.Context, deviceID string, power fc.PowerState) error {
	m.lastPowerID = deviceID
	m.lastPower = power
	return m.setPowerErr
}
func (m *mockControl) RepairStatus(string) (scheduler.RepairStatus, bool) {
	return m.status, m.statusOK
}
func (m *mockControl) Device(string) (fc.Device, bool) {
	return m.device, m.deviceOK
}
func (m *mockControl) Subscribe(fn func(fc.Device)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriber = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubscribed = true
	}
}

// push fires the registered subscriber, mimicking a scheduler notification.
func (m *mockControl) push(d fc.Device) {
	m.mu.Lock()
	fn := m.subscriber
	m.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

type mockEventLog struct {
	resp       []fc.DeviceEvent
	err        error
	lastFilter service.LogFilter
}

func (m *mockEventLog) List(_ context.Context, f service.LogFilter) ([]fc.DeviceEvent, error) {
	m.lastFilter = f
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
