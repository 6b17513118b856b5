// Package store is the shared key/hash store every loop coordinates
// through. Records are string-keyed hashes of field/value strings grouped
// into tables, split across logical namespaces (config, live state,
// counters, history) and physically partitioned per line-card slot.
package store

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Namespace selects one of the logical databases.
type Namespace int

const (
	Config Namespace = iota
	State
	Counters
	History
)

func (n Namespace) String() string {
	switch n {
	case Config:
		return "CONFIG"
	case State:
		return "STATE"
	case Counters:
		return "COUNTERS"
	case History:
		return "HISTORY"
	default:
		return "NAMESPACE(" + strconv.Itoa(int(n)) + ")"
	}
}

// HostPartition holds every record that does not belong to a line-card slot.
const HostPartition = 0

// Fields is one record: field name to value.
type Fields map[string]string

// Client accesses one (partition, namespace) pair. A missing key or field is
// reported through the bool result, never as an error.
type Client interface {
	Exists(ctx context.Context, table, key string) (bool, error)
	GetEntry(ctx context.Context, table, key string) (Fields, bool, error)
	GetKeys(ctx context.Context, table string) ([]string, error)
	GetField(ctx context.Context, table, key, field string) (string, bool, error)
	// Set merges fields into the record, creating it when absent.
	Set(ctx context.Context, table, key string, fields Fields) error
	SetField(ctx context.Context, table, key, field, value string) error
	DeleteEntry(ctx context.Context, table, key string) error
	// Expire schedules the record for deletion after ttl. No-op when the
	// record does not exist.
	Expire(ctx context.Context, table, key string, ttl time.Duration) error
}

// Store hands out clients and owns the backend lifecycle.
type Store interface {
	Client(partition int, ns Namespace) Client
	// Purge removes expired records and returns how many were dropped.
	Purge(ctx context.Context) (int, error)
	Close() error
}

// PartitionOf returns the partition a resource's records live in: the slot
// number embedded as the third dash-separated element (LINECARD-1-3 -> 3)
// when it addresses one of the line-card slots, the host partition
// otherwise.
func PartitionOf(resource string, slots int) int {
	elements := strings.Split(resource, "-")
	if len(elements) < 3 {
		return HostPartition
	}

	slot, err := strconv.Atoi(elements[2])
	if err != nil || slot < 1 || slot > slots {
		return HostPartition
	}

	return slot
}

// Router resolves resources to clients.
type Router struct {
	store Store
	slots int
}

// NewRouter returns a Router for a chassis with the given number of
// line-card slots.
func NewRouter(s Store, slots int) *Router {
	return &Router{store: s, slots: slots}
}

// For returns the client holding resource's records in namespace ns.
func (r *Router) For(resource string, ns Namespace) Client {
	return r.store.Client(PartitionOf(resource, r.slots), ns)
}

// Partition returns the client of one explicit partition.
func (r *Router) Partition(partition int, ns Namespace) Client {
	return r.store.Client(partition, ns)
}

// Partitions lists the host partition followed by every slot partition.
func (r *Router) Partitions() []int {
	partitions := make([]int, 0, r.slots+1)
	for i := HostPartition; i <= r.slots; i++ {
		partitions = append(partitions, i)
	}
	return partitions
}
