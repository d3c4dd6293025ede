package common

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/sessionmap"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions to interface with Dragonboat (raft:// stores)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// RaftScheme is the store URL scheme selecting the raft replicated object store.
const RaftScheme = "raft"

// ToDragonboatConfig converts the ServerConfig to a Dragonboat Config for the object shard
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a metadata node.
type ServerConfig struct {
	// Session map
	NodeRank     uint64
	InodeBase    uint64
	Pool         string
	ObjectSize   uint32
	Create       bool
	SaveInterval time.Duration

	// Object store, e.g. file:///var/lib/dmds or raft://
	StoreURL string

	// Dragonboat parameters (raft:// store only)
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	TimeoutSecond      int64

	// HTTP admin api, empty disables it
	AdminEndpoint string

	// Logging configuration
	LogLevel string
}

// UsesRaft returns whether the store URL selects the raft replicated store.
func (c *ServerConfig) UsesRaft() bool {
	return strings.HasPrefix(c.StoreURL, RaftScheme+":")
}

// Timeout returns TimeoutSecond as a duration.
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// Layout returns the object layout the session map is stored with.
func (c *ServerConfig) Layout() objstore.Layout {
	return objstore.Layout{Pool: c.Pool, ObjectSize: c.ObjectSize}
}

// SessionMapConfig returns the configuration of this node's session map.
func (c *ServerConfig) SessionMapConfig() sessionmap.Config {
	return sessionmap.Config{
		NodeRank:  c.NodeRank,
		InodeBase: c.InodeBase,
		Layout:    c.Layout(),
	}
}

// Validate checks the configuration for values the server cannot start with.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.StoreURL == "" {
		errs = append(errs, errors.New("a store URL is required"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.SaveInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid save interval %s", c.SaveInterval))
	}
	if c.UsesRaft() {
		if c.ReplicaID == 0 {
			errs = append(errs, errors.New("ReplicaID is required for raft stores"))
		}
		if len(c.ClusterMembers) == 0 {
			errs = append(errs, errors.New("ClusterMembers is required for raft stores"))
		} else if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			errs = append(errs, fmt.Errorf("no address found for replica ID %d in cluster members", c.ReplicaID))
		}
		if c.TimeoutSecond <= 0 {
			errs = append(errs, fmt.Errorf("invalid timeout %d", c.TimeoutSecond))
		}
	}
	return errors.Join(errs...)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	smConf := c.SessionMapConfig()

	addSection("Session Map")
	addField("Node Rank", strconv.FormatUint(c.NodeRank, 10))
	addField("Object", smConf.Key())
	if c.ObjectSize > 0 {
		addField("Object Size", humanize.IBytes(uint64(c.ObjectSize)))
	} else {
		addField("Object Size", "unlimited")
	}
	if c.SaveInterval > 0 {
		addField("Autosave", c.SaveInterval.String())
	} else {
		addField("Autosave", "disabled")
	}
	addField("Create If Missing", fmt.Sprintf("%t", c.Create))

	addSection("Object Store")
	addField("URL", c.StoreURL)

	addSection("Admin API")
	if c.AdminEndpoint != "" {
		addField("Endpoint", c.AdminEndpoint)
	} else {
		addField("Endpoint", "disabled")
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.UsesRaft() {
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))

		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Members:\n")
		for _, k := range slices.Sorted(maps.Keys(c.ClusterMembers)) {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}
