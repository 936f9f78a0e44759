package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/lysync/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// GATTOp is one recorded read or write against a FakePeripheral
type GATTOp struct {
	Op      device.Op
	Service string
	Char    string
	Data    []byte
}

func (o GATTOp) String() string {
	return fmt.Sprintf("%s %s/%s % x", o.Op, o.Service, o.Char, o.Data)
}

// FakePeripheral is an in-memory device.Connection with recorded traffic
type FakePeripheral struct {
	address string

	mu         sync.Mutex
	values     *orderedmap.OrderedMap[string, []byte]
	readErrs   map[string]error
	writeErrs  map[string]error
	ops        []GATTOp
	connected  bool
	closeCalls int
	onWrite    func(op GATTOp)
}

var _ device.Connection = (*FakePeripheral)(nil)

func charKey(service, char string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(char)
}

func (p *FakePeripheral) Address() string { return p.address }

func (p *FakePeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *FakePeripheral) ReadCharacteristic(_ context.Context, service, char string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := charKey(service, char)
	p.ops = append(p.ops, GATTOp{Op: device.OpRead, Service: device.NormalizeUUID(service), Char: device.NormalizeUUID(char)})

	if err, ok := p.readErrs[key]; ok {
		return nil, &device.OpError{Op: device.OpRead, Address: p.address, UUID: char, Err: err}
	}
	v, ok := p.values.Get(key)
	if !ok {
		return nil, &device.OpError{Op: device.OpRead, Address: p.address, UUID: char,
			Err: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}}
	}
	return append([]byte(nil), v...), nil
}

func (p *FakePeripheral) WriteCharacteristic(_ context.Context, service, char string, data []byte) error {
	p.mu.Lock()

	key := charKey(service, char)
	op := GATTOp{Op: device.OpWrite, Service: device.NormalizeUUID(service), Char: device.NormalizeUUID(char), Data: append([]byte(nil), data...)}
	p.ops = append(p.ops, op)

	if err, ok := p.writeErrs[key]; ok {
		p.mu.Unlock()
		return &device.OpError{Op: device.OpWrite, Address: p.address, UUID: char, Err: err}
	}
	if _, ok := p.values.Get(key); !ok {
		p.mu.Unlock()
		return &device.OpError{Op: device.OpWrite, Address: p.address, UUID: char,
			Err: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}}
	}
	p.values.Set(key, op.Data)
	hook := p.onWrite
	p.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	return nil
}

func (p *FakePeripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.closeCalls++
	return nil
}

// Ops returns every recorded GATT operation in order
func (p *FakePeripheral) Ops() []GATTOp {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]GATTOp(nil), p.ops...)
}

// Writes returns the recorded writes to one characteristic
func (p *FakePeripheral) Writes(char string) [][]byte {
	var out [][]byte
	for _, op := range p.Ops() {
		if op.Op == device.OpWrite && op.Char == device.NormalizeUUID(char) {
			out = append(out, op.Data)
		}
	}
	return out
}

// Value returns the current stored value of a characteristic
func (p *FakePeripheral) Value(service, char string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, _ := p.values.Get(charKey(service, char))
	return v
}

// CloseCalls reports how many times Close was called
func (p *FakePeripheral) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// PeripheralBuilder builds a FakePeripheral with a fixed GATT profile
type PeripheralBuilder struct {
	address     string
	service     string
	values      *orderedmap.OrderedMap[string, []byte]
	readErrs    map[string]error
	writeErrs   map[string]error
	linkDropped bool
	onWrite     func(GATTOp)
}

// NewPeripheralBuilder creates a builder for a peripheral at address
func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{
		address:   address,
		values:    orderedmap.New[string, []byte](),
		readErrs:  make(map[string]error),
		writeErrs: make(map[string]error),
	}
}

// WithService selects the service that following characteristics belong to
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.service = uuid
	return b
}

// WithCharacteristic adds a characteristic with an initial value to the current service
func (b *PeripheralBuilder) WithCharacteristic(uuid string, value []byte) *PeripheralBuilder {
	if b.service == "" {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	b.values.Set(charKey(b.service, uuid), value)
	return b
}

// WithReadError makes reads of a characteristic in the current service fail
func (b *PeripheralBuilder) WithReadError(uuid string, err error) *PeripheralBuilder {
	b.readErrs[charKey(b.service, uuid)] = err
	return b
}

// WithWriteError makes writes to a characteristic in the current service fail
func (b *PeripheralBuilder) WithWriteError(uuid string, err error) *PeripheralBuilder {
	b.writeErrs[charKey(b.service, uuid)] = err
	return b
}

// WithDroppedLink makes IsConnected report false right after connect
func (b *PeripheralBuilder) WithDroppedLink() *PeripheralBuilder {
	b.linkDropped = true
	return b
}

// OnWrite registers a hook called after every successful write
func (b *PeripheralBuilder) OnWrite(fn func(GATTOp)) *PeripheralBuilder {
	b.onWrite = fn
	return b
}

// Build returns a connected peripheral
func (b *PeripheralBuilder) Build() *FakePeripheral {
	values := orderedmap.New[string, []byte]()
	for pair := b.values.Oldest(); pair != nil; pair = pair.Next() {
		values.Set(pair.Key, append([]byte(nil), pair.Value...))
	}
	return &FakePeripheral{
		address:   b.address,
		values:    values,
		readErrs:  b.readErrs,
		writeErrs: b.writeErrs,
		connected: !b.linkDropped,
		onWrite:   b.onWrite,
	}
}
