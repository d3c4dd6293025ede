package util

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ValentinKolb/dMDS/lib/common"
	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/backends"
	"github.com/ValentinKolb/dMDS/lib/objstore/dstore"
	"github.com/ValentinKolb/dMDS/lib/util"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DMDS_<flag> environment variables.
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dmds")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Store configuration
// --------------------------------------------------------------------------

// SetupStoreFlags adds the flags locating a session map in an object store to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "store"
	cmd.PersistentFlags().String(key, "file://data/objects", WrapString("URL of the object store holding the session map: mem://, file:///path, s3://bucket/prefix, gs://bucket/prefix, redis://host:port/db or raft:// for the replicated store (requires the raft flags)"))

	key = "node-rank"
	cmd.PersistentFlags().Uint64(key, 0, WrapString("Rank of the metadata node. The session map is stored at inode 0x300+rank"))

	key = "inode-base"
	cmd.PersistentFlags().Uint64(key, 0, WrapString("Override the base inode number of session map objects (0 = 0x300)"))

	key = "pool"
	cmd.PersistentFlags().String(key, "metadata", WrapString("Pool (key prefix) the session map object is placed in"))

	key = "object-size"
	cmd.PersistentFlags().String(key, "4MiB", WrapString("Maximum size of one object (e.g. 4MiB, 0 = unlimited). Saves of a larger session map fail"))

	key = "shard-id"
	cmd.PersistentFlags().Uint64(key, 300, WrapString("(raft) ID of the shard replicating the objects"))

	key = "rtt-millisecond"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("(raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Election and heartbeat timeouts are derived from it"))

	key = "snapshot-entries"
	cmd.PersistentFlags().Uint64(key, 10, WrapString("(raft) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied Raft log entries. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	cmd.PersistentFlags().Uint64(key, 5, WrapString("(raft) CompactionOverhead defines the number of log entries kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data/raft", WrapString("(raft) DataDir is the directory used for the raft log and snapshots"))

	key = "replica-id"
	cmd.PersistentFlags().String(key, "", WrapString("(raft) ReplicaID is the unique name of this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	cmd.PersistentFlags().String(key, "", WrapString("(raft) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, 5, WrapString("Timeout in seconds of store operations of the raft store and of the final save on shutdown"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// ReadStoreConfig fills the store related fields of conf from viper.
func ReadStoreConfig(conf *common.ServerConfig) error {
	conf.StoreURL = viper.GetString("store")
	conf.NodeRank = viper.GetUint64("node-rank")
	conf.InodeBase = viper.GetUint64("inode-base")
	conf.Pool = viper.GetString("pool")
	conf.ShardID = viper.GetUint64("shard-id")
	conf.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	conf.SnapshotEntries = viper.GetUint64("snapshot-entries")
	conf.CompactionOverhead = viper.GetUint64("compaction-overhead")
	conf.DataDir = viper.GetString("data-dir")
	conf.TimeoutSecond = viper.GetInt64("timeout")
	conf.LogLevel = viper.GetString("log-level")

	objectSize, err := ParseObjectSize(viper.GetString("object-size"))
	if err != nil {
		return err
	}
	conf.ObjectSize = objectSize

	conf.ReplicaID = 0
	if id := viper.GetString("replica-id"); id != "" {
		conf.ReplicaID = ReplicaID(id)
	}

	conf.ClusterMembers = nil
	if members := viper.GetString("cluster-members"); members != "" {
		if conf.ClusterMembers, err = ParseClusterMembers(members); err != nil {
			return err
		}
	}
	return nil
}

// ParseObjectSize parses a human readable object size such as "4MiB".
func ParseObjectSize(s string) (uint32, error) {
	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid object size %q: %w", s, err)
	}
	if size > math.MaxUint32 {
		return 0, fmt.Errorf("object size %s exceeds %s", humanize.IBytes(size), humanize.IBytes(math.MaxUint32))
	}
	return uint32(size), nil
}

// ReplicaID derives the numeric raft replica id from a node name.
func ReplicaID(name string) uint64 {
	return util.HashString(name, 0)
}

// ParseClusterMembers parses 'node-1=host:port,node-2=host:port' into replica ids and addresses.
func ParseClusterMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[ReplicaID(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return members, nil
}

// OpenStore opens the object store described by conf. raft:// starts the
// local replica of the replicated store, every other URL is handed to backends.Open.
func OpenStore(ctx context.Context, conf common.ServerConfig) (objstore.Store, error) {
	if conf.UsesRaft() {
		store, err := dstore.Start(conf.ToNodeHostConfig(), conf.ClusterMembers, conf.ToDragonboatConfig(), conf.Timeout())
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return backends.Open(ctx, conf.StoreURL)
}
