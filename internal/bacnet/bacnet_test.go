package bacnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestObjectRefString(t *testing.T) {
	tests := []struct {
		ref  ObjectRef
		want string
	}{
		{NewRef(ObjectAnalogValue, 12), "AV:12"},
		{NewRef(ObjectMultiState, 42), "MSV:42"},
		{NewRef(ObjectBinaryValue, 50), "BV:50"},
		{NewRef(ObjectAnalogInput, 1), "AI:1"},
		{NewRef(ObjectPositiveInt, 7), "PIV:7"},
	}

	for _, tt := range tests {
		if got := tt.ref.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestObjectRefAsMapKey(t *testing.T) {
	// Distinct (type, instance) pairs must never collide.
	m := map[ObjectRef]float64{
		NewRef(ObjectAnalogValue, 1): 1.0,
		NewRef(ObjectMultiState, 1):  2.0,
		NewRef(ObjectAnalogValue, 2): 3.0,
	}
	if len(m) != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", len(m))
	}
	if m[NewRef(ObjectMultiState, 1)] != 2.0 {
		t.Error("lookup by value key failed")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOK   bool
	}{
		{
			name:     "denied code",
			err:      errors.New("write rejected: ErrorClass:Property Code:40"),
			wantCode: 40,
			wantOK:   true,
		},
		{
			name:     "pending code",
			err:      errors.New("Code:32"),
			wantCode: 32,
			wantOK:   true,
		},
		{
			name:   "no code",
			err:    errors.New("connection refused"),
			wantOK: false,
		},
		{
			name:   "nil error",
			err:    nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := ErrorCode(tt.err)
			if ok != tt.wantOK {
				t.Fatalf("ErrorCode() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && code != tt.wantCode {
				t.Errorf("ErrorCode() = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	denied := fmt.Errorf("device error Code:%d", CodeWriteAccessDenied)
	if !IsAccessDenied(denied) {
		t.Error("Code:40 should classify as access denied")
	}
	if IsSoftAccept(denied) {
		t.Error("Code:40 should not classify as soft accept")
	}

	locked := fmt.Errorf("device error Code:%d", CodeSecurityDenied)
	if !IsAccessDenied(locked) {
		t.Error("Code:25 should classify as access denied")
	}

	pending := fmt.Errorf("device error Code:%d", CodeValuePending)
	if !IsSoftAccept(pending) {
		t.Error("Code:32 should classify as soft accept")
	}
	if IsAccessDenied(pending) {
		t.Error("Code:32 should not classify as access denied")
	}

	if !IsTimeout(ErrTimeout) {
		t.Error("ErrTimeout should classify as timeout")
	}
	if !IsTimeout(fmt.Errorf("read: %w", context.DeadlineExceeded)) {
		t.Error("wrapped deadline should classify as timeout")
	}
	if IsTimeout(denied) {
		t.Error("denied error should not classify as timeout")
	}
}

// fakeTransport counts factory invocations via its port.
type fakeTransport struct {
	port   int
	closed bool
}

func (f *fakeTransport) ReadMultiple(context.Context, Address, []ObjectRef) (map[ObjectRef]float64, error) {
	return nil, nil
}

func (f *fakeTransport) Write(context.Context, Address, ObjectRef, float64, WriteOptions) error {
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func TestManagerMemoizesPerPort(t *testing.T) {
	var mu sync.Mutex
	created := 0
	mgr := NewManager(func(port int) (Transport, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return &fakeTransport{port: port}, nil
	})

	t1, err := mgr.Transport(47808)
	if err != nil {
		t.Fatalf("Transport() error = %v", err)
	}
	t2, err := mgr.Transport(47808)
	if err != nil {
		t.Fatalf("Transport() error = %v", err)
	}
	if t1 != t2 {
		t.Error("same port must return the same transport instance")
	}

	t3, err := mgr.Transport(47809)
	if err != nil {
		t.Fatalf("Transport() error = %v", err)
	}
	if t3 == t1 {
		t.Error("different port must return a different transport")
	}

	if created != 2 {
		t.Errorf("factory invoked %d times, want 2", created)
	}
	if mgr.Count() != 2 {
		t.Errorf("Count() = %d, want 2", mgr.Count())
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	var mu sync.Mutex
	created := 0
	mgr := NewManager(func(port int) (Transport, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return &fakeTransport{port: port}, nil
	})

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Transport(47808); err != nil {
				t.Errorf("Transport() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("factory invoked %d times under concurrency, want 1", created)
	}
}

func TestManagerClose(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager(func(int) (Transport, error) { return ft, nil })

	if _, err := mgr.Transport(47808); err != nil {
		t.Fatalf("Transport() error = %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ft.closed {
		t.Error("managed transport not closed")
	}

	if _, err := mgr.Transport(47808); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Transport() after Close = %v, want ErrManagerClosed", err)
	}

	// Second close is a no-op
	if err := mgr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestManagerFactoryError(t *testing.T) {
	mgr := NewManager(func(int) (Transport, error) {
		return nil, errors.New("bind failed")
	})

	if _, err := mgr.Transport(47808); err == nil {
		t.Fatal("expected factory error to propagate")
	}
	// A failed creation must not be cached
	if mgr.Count() != 0 {
		t.Errorf("Count() = %d after failed creation, want 0", mgr.Count())
	}
}
