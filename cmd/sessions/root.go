package sessions

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	cmdUtil "github.com/ValentinKolb/dMDS/cmd/util"
	"github.com/ValentinKolb/dMDS/lib/admin"
	"github.com/ValentinKolb/dMDS/lib/common"
	"github.com/ValentinKolb/dMDS/lib/session"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SessionCommands represents the sessions command group
	SessionCommands = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored session maps",
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Read and print the session map of a node from the object store",
		Args:  cobra.NoArgs,
		RunE:  runDump,
	}

	decodeCmd = &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode and print a session map object stored in a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	SessionCommands.AddCommand(dumpCmd)
	SessionCommands.AddCommand(decodeCmd)

	cmdUtil.SetupStoreFlags(dumpCmd)

	key := "json"
	SessionCommands.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Print the session map as JSON instead of a table"))
}

func runDump(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	conf := common.ServerConfig{}
	if err := cmdUtil.ReadStoreConfig(&conf); err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	if err := common.InitLoggers(conf); err != nil {
		return err
	}

	store, err := cmdUtil.OpenStore(cmd.Context(), conf)
	if err != nil {
		return err
	}
	defer store.Close()

	key := conf.SessionMapConfig().Key()
	data, err := store.Get(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("reading %s from %s: %w", key, store.Provider(), err)
	}
	return printDirectory(cmd.OutOrStdout(), key, data)
}

func runDecode(cmd *cobra.Command, args []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return printDirectory(cmd.OutOrStdout(), args[0], data)
}

func printDirectory(w io.Writer, name string, data []byte) error {
	version, sessions, err := session.DecodeDirectory(data, time.Now())
	if err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	if viper.GetBool("json") {
		return writeJSON(w, version, sessions)
	}
	return writeTable(w, name, len(data), version, sessions)
}

func sortedEntries(sessions map[session.Identity]session.Entry) []session.Entry {
	entries := make([]session.Entry, 0, len(sessions))
	for _, id := range slices.SortedFunc(maps.Keys(sessions), session.Identity.Compare) {
		entries = append(entries, sessions[id])
	}
	return entries
}

func writeJSON(w io.Writer, version uint64, sessions map[session.Identity]session.Entry) error {
	view := admin.DirectoryView{Version: version, Committed: version, Sessions: []admin.SessionView{}}
	for _, e := range sortedEntries(sessions) {
		view.Sessions = append(view.Sessions, admin.NewSessionView(e))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func writeTable(w io.Writer, name string, size int, version uint64, sessions map[session.Identity]session.Entry) error {
	fmt.Fprintf(w, "%s: version %d, %d sessions, %s\n", name, version, len(sessions), humanize.IBytes(uint64(size)))

	table := tablewriter.NewWriter(w)
	table.Header("Session", "Address", "Completed", "Prealloc", "Metadata")
	for _, e := range sortedEntries(sessions) {
		meta := make([]string, 0, len(e.Metadata))
		for _, k := range slices.Sorted(maps.Keys(e.Metadata)) {
			meta = append(meta, k+"="+e.Metadata[k])
		}
		if err := table.Append(
			e.ID.String(),
			e.Addr,
			strconv.Itoa(len(e.CompletedRequests)),
			strconv.Itoa(len(e.PreallocInodes)),
			strings.Join(meta, ","),
		); err != nil {
			return err
		}
	}
	return table.Render()
}
