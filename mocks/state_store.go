// Package mocks holds hand-written gomock-style doubles for interfaces
// that unit tests need to drive deterministically — LoopManager and
// LoopMonitor tests in particular need to force claim timeouts, backend
// errors, and notification races that a real Store makes hard to arrange.
package mocks

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/fastloop/fastloop/state"
)

// MockStore is a gomock double for state.Store.
type MockStore struct {
	ctrl     *gomock.Controller
	recorder *MockStoreMockRecorder
}

type MockStoreMockRecorder struct {
	mock *MockStore
}

func NewMockStore(ctrl *gomock.Controller) *MockStore {
	m := &MockStore{ctrl: ctrl}
	m.recorder = &MockStoreMockRecorder{m}
	return m
}

func (m *MockStore) EXPECT() *MockStoreMockRecorder {
	return m.recorder
}

func (m *MockStore) GetOrCreateLoop(ctx context.Context, loopName, loopID string, idleTimeout float64) (state.Record, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetOrCreateLoop", ctx, loopName, loopID, idleTimeout)
	rec, _ := ret[0].(state.Record)
	created, _ := ret[1].(bool)
	err, _ := ret[2].(error)
	return rec, created, err
}

func (mr *MockStoreMockRecorder) GetOrCreateLoop(ctx, loopName, loopID, idleTimeout any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetOrCreateLoop", reflect.TypeOf((*MockStore)(nil).GetOrCreateLoop), ctx, loopName, loopID, idleTimeout)
}

func (m *MockStore) UpdateLoop(ctx context.Context, rec state.Record) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "UpdateLoop", ctx, rec)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreMockRecorder) UpdateLoop(ctx, rec any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdateLoop", reflect.TypeOf((*MockStore)(nil).UpdateLoop), ctx, rec)
}

func (m *MockStore) GetLoop(ctx context.Context, loopID string) (state.Record, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetLoop", ctx, loopID)
	rec, _ := ret[0].(state.Record)
	err, _ := ret[1].(error)
	return rec, err
}

func (mr *MockStoreMockRecorder) GetLoop(ctx, loopID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetLoop", reflect.TypeOf((*MockStore)(nil).GetLoop), ctx, loopID)
}

func (m *MockStore) GetAllLoops(ctx context.Context, status string) ([]state.Record, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetAllLoops", ctx, status)
	recs, _ := ret[0].([]state.Record)
	err, _ := ret[1].(error)
	return recs, err
}

func (mr *MockStoreMockRecorder) GetAllLoops(ctx, status any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetAllLoops", reflect.TypeOf((*MockStore)(nil).GetAllLoops), ctx, status)
}

func (m *MockStore) WithClaim(ctx context.Context, loopID string) (state.Release, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "WithClaim", ctx, loopID)
	rel, _ := ret[0].(state.Release)
	err, _ := ret[1].(error)
	return rel, err
}

func (mr *MockStoreMockRecorder) WithClaim(ctx, loopID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WithClaim", reflect.TypeOf((*MockStore)(nil).WithClaim), ctx, loopID)
}

func (m *MockStore) PushEvent(ctx context.Context, event state.Event) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "PushEvent", ctx, event)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreMockRecorder) PushEvent(ctx, event any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PushEvent", reflect.TypeOf((*MockStore)(nil).PushEvent), ctx, event)
}

func (m *MockStore) PopEvent(ctx context.Context, loopID, eventType string, sender state.EventKind) (state.Event, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "PopEvent", ctx, loopID, eventType, sender)
	ev, _ := ret[0].(state.Event)
	err, _ := ret[1].(error)
	return ev, err
}

func (mr *MockStoreMockRecorder) PopEvent(ctx, loopID, eventType, sender any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PopEvent", reflect.TypeOf((*MockStore)(nil).PopEvent), ctx, loopID, eventType, sender)
}

func (m *MockStore) GetEventHistory(ctx context.Context, loopID string) ([]state.Event, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetEventHistory", ctx, loopID)
	evs, _ := ret[0].([]state.Event)
	err, _ := ret[1].(error)
	return evs, err
}

func (mr *MockStoreMockRecorder) GetEventHistory(ctx, loopID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetEventHistory", reflect.TypeOf((*MockStore)(nil).GetEventHistory), ctx, loopID)
}

func (m *MockStore) GetNextNonce(ctx context.Context, loopID string) (int64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetNextNonce", ctx, loopID)
	n, _ := ret[0].(int64)
	err, _ := ret[1].(error)
	return n, err
}

func (mr *MockStoreMockRecorder) GetNextNonce(ctx, loopID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetNextNonce", reflect.TypeOf((*MockStore)(nil).GetNextNonce), ctx, loopID)
}

func (m *MockStore) GetContextValue(ctx context.Context, loopID, key string) ([]byte, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetContextValue", ctx, loopID, key)
	v, _ := ret[0].([]byte)
	ok, _ := ret[1].(bool)
	err, _ := ret[2].(error)
	return v, ok, err
}

func (mr *MockStoreMockRecorder) GetContextValue(ctx, loopID, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetContextValue", reflect.TypeOf((*MockStore)(nil).GetContextValue), ctx, loopID, key)
}

func (m *MockStore) SetContextValue(ctx context.Context, loopID, key string, value []byte) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SetContextValue", ctx, loopID, key, value)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreMockRecorder) SetContextValue(ctx, loopID, key, value any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SetContextValue", reflect.TypeOf((*MockStore)(nil).SetContextValue), ctx, loopID, key, value)
}

func (m *MockStore) DeleteContextValue(ctx context.Context, loopID, key string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "DeleteContextValue", ctx, loopID, key)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreMockRecorder) DeleteContextValue(ctx, loopID, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DeleteContextValue", reflect.TypeOf((*MockStore)(nil).DeleteContextValue), ctx, loopID, key)
}

func (m *MockStore) SubscribeToEvents(ctx context.Context, loopID string) (state.Subscription, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SubscribeToEvents", ctx, loopID)
	sub, _ := ret[0].(state.Subscription)
	err, _ := ret[1].(error)
	return sub, err
}

func (mr *MockStoreMockRecorder) SubscribeToEvents(ctx, loopID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SubscribeToEvents", reflect.TypeOf((*MockStore)(nil).SubscribeToEvents), ctx, loopID)
}

func (m *MockStore) WaitForEventNotification(ctx context.Context, sub state.Subscription, timeout time.Duration) bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "WaitForEventNotification", ctx, sub, timeout)
	ok, _ := ret[0].(bool)
	return ok
}

func (mr *MockStoreMockRecorder) WaitForEventNotification(ctx, sub, timeout any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WaitForEventNotification", reflect.TypeOf((*MockStore)(nil).WaitForEventNotification), ctx, sub, timeout)
}

func (m *MockStore) SetLoopMapping(ctx context.Context, externalKey, loopID string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SetLoopMapping", ctx, externalKey, loopID)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreMockRecorder) SetLoopMapping(ctx, externalKey, loopID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SetLoopMapping", reflect.TypeOf((*MockStore)(nil).SetLoopMapping), ctx, externalKey, loopID)
}

func (m *MockStore) GetLoopMapping(ctx context.Context, externalKey string) (string, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetLoopMapping", ctx, externalKey)
	loopID, _ := ret[0].(string)
	ok, _ := ret[1].(bool)
	err, _ := ret[2].(error)
	return loopID, ok, err
}

func (mr *MockStoreMockRecorder) GetLoopMapping(ctx, externalKey any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetLoopMapping", reflect.TypeOf((*MockStore)(nil).GetLoopMapping), ctx, externalKey)
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Ping", ctx)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreMockRecorder) Ping(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Ping", reflect.TypeOf((*MockStore)(nil).Ping), ctx)
}

func (m *MockStore) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockStore)(nil).Close))
}

var _ state.Store = (*MockStore)(nil)
