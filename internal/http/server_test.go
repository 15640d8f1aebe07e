package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) RelayStatus(ctx context.Context) (*domain.RelayStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RelayStatus), args.Error(1)
}

func (m *MockService) InverterInfo(ctx context.Context) (*domain.InverterInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InverterInfo), args.Error(1)
}

func (m *MockService) InverterStatus(ctx context.Context) (*domain.InverterStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InverterStatus), args.Error(1)
}

func (m *MockService) CheckStoreConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestHTTPServer_HealthCheck(t *testing.T) {
	mockService := new(MockService)
	logger, _ := zap.NewDevelopment()
	server := NewHTTPServer(":8080", mockService, logger)

	mockService.On("CheckStoreConnection", mock.Anything).Return(nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	server.healthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	mockService.AssertExpectations(t)
}

func TestHTTPServer_HealthCheckStoreDown(t *testing.T) {
	mockService := new(MockService)
	logger, _ := zap.NewDevelopment()
	server := NewHTTPServer(":8080", mockService, logger)

	mockService.On("CheckStoreConnection", mock.Anything).Return(errors.New("connection refused"))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	server.healthCheck(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	mockService.AssertExpectations(t)
}

func TestHTTPServer_GetRelayStatus(t *testing.T) {
	mockService := new(MockService)
	logger, _ := zap.NewDevelopment()
	server := NewHTTPServer(":8080", mockService, logger)

	expected := &domain.RelayStatus{
		QueueDepth: 7,
		Session: domain.SessionState{
			IsOpen:              true,
			ConsecutiveFailures: 1,
		},
	}
	mockService.On("RelayStatus", mock.Anything).Return(expected, nil)

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()

	server.getRelayStatus(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response domain.RelayStatus
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, 7, response.QueueDepth)
	assert.True(t, response.Session.IsOpen)

	mockService.AssertExpectations(t)
}

func TestHTTPServer_GetInverterInfo(t *testing.T) {
	mockService := new(MockService)
	logger, _ := zap.NewDevelopment()
	server := NewHTTPServer(":8080", mockService, logger)

	expected := &domain.InverterInfo{
		PartNumber:      "-3G79-",
		SerialNumber:    "123456",
		FirmwareRelease: "C.0.2",
		ManufactureWeek: 24,
		ManufactureYear: 10,
	}
	mockService.On("InverterInfo", mock.Anything).Return(expected, nil)

	req := httptest.NewRequest("GET", "/api/v1/inverter", nil)
	w := httptest.NewRecorder()

	server.getInverterInfo(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response domain.InverterInfo
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "123456", response.SerialNumber)

	mockService.AssertExpectations(t)
}

func TestHTTPServer_GetInverterInfoUnavailable(t *testing.T) {
	mockService := new(MockService)
	logger, _ := zap.NewDevelopment()
	server := NewHTTPServer(":8080", mockService, logger)

	mockService.On("InverterInfo", mock.Anything).Return(nil, errors.New("retries exhausted"))

	req := httptest.NewRequest("GET", "/api/v1/inverter", nil)
	w := httptest.NewRecorder()

	server.getInverterInfo(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	mockService.AssertExpectations(t)
}

func TestHTTPServer_GetInverterState(t *testing.T) {
	mockService := new(MockService)
	logger, _ := zap.NewDevelopment()
	server := NewHTTPServer(":8080", mockService, logger)

	expected := &domain.InverterStatus{
		GlobalState:  6,
		GlobalDesc:   "Run",
		InverterDesc: "Run",
		AlarmDesc:    "No Alarm",
	}
	mockService.On("InverterStatus", mock.Anything).Return(expected, nil)

	req := httptest.NewRequest("GET", "/api/v1/inverter/state", nil)
	w := httptest.NewRecorder()

	server.getInverterStatus(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response domain.InverterStatus
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "Run", response.GlobalDesc)

	mockService.AssertExpectations(t)
}
