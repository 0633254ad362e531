package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	redis "github.com/redis/go-redis/v9"
	civdomain "github.com/smallbiznis/pantheon/internal/civilization/domain"
	"github.com/smallbiznis/pantheon/internal/config"
	invitationdomain "github.com/smallbiznis/pantheon/internal/invitation/domain"
	"github.com/smallbiznis/pantheon/internal/persistence"
	religiondomain "github.com/smallbiznis/pantheon/internal/religion/domain"
	"github.com/smallbiznis/pantheon/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var errNothingToInspect = errors.New("memory backend keeps no state between runs")

// stateDump is a read-only view of everything the gateway holds.
type stateDump struct {
	Religions           []*religiondomain.Religion `json:"religions"`
	ReligionInvites     []invitationdomain.Invite  `json:"religion_invites"`
	Civilizations       []*civdomain.Civilization  `json:"civilizations"`
	CivilizationInvites []invitationdomain.Invite  `json:"civilization_invites"`
	Missing             []string                   `json:"missing_keys,omitempty"`
	Stored              []storedKey                `json:"stored,omitempty"`
}

// storedKey is the write metadata the sql backend keeps beside each blob.
type storedKey struct {
	Key       string            `json:"key"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
}

type describer interface {
	Describe(ctx context.Context, key string) (datatypes.JSONMap, time.Time, bool, error)
}

func newInspectCmd() *cobra.Command {
	var (
		output  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted governance state without loading it into a registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
			}
			cfg := config.Load()
			gw, closeFn, err := openGateway(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			dump, err := readState(ctx, gw)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), dump)
			}
			return writeTable(cmd.OutOrStdout(), dump)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "gateway read timeout")
	return cmd
}

func openGateway(cfg config.Config, log *zap.Logger) (persistence.Gateway, func() error, error) {
	switch cfg.PersistBackend {
	case config.BackendMemory:
		return nil, nil, errNothingToInspect
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return persistence.NewRedisGateway(client, cfg.Redis.KeyPrefix), client.Close, nil
	default:
		conn, err := db.Open(db.FromAppConfig(cfg), log)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, nil, err
		}
		return persistence.NewSQLGateway(conn), sqlDB.Close, nil
	}
}

func readState(ctx context.Context, gw persistence.Gateway) (stateDump, error) {
	var (
		dump         stateDump
		religionSnap religiondomain.Snapshot
		civSnap      civdomain.Snapshot
	)

	targets := []struct {
		key string
		dst any
	}{
		{persistence.KeyReligions, &religionSnap},
		{persistence.KeyReligionInvites, &dump.ReligionInvites},
		{persistence.KeyCivilizations, &civSnap},
		{persistence.KeyCivilizationInvites, &dump.CivilizationInvites},
	}
	for _, target := range targets {
		ok, err := persistence.LoadInto(ctx, gw, target.key, target.dst)
		if err != nil {
			return stateDump{}, fmt.Errorf("read %s: %w", target.key, err)
		}
		if !ok {
			dump.Missing = append(dump.Missing, target.key)
		}
	}

	dump.Religions = religionSnap.Religions
	dump.Civilizations = civSnap.Civilizations

	d, ok := gw.(describer)
	if !ok {
		return dump, nil
	}
	for _, target := range targets {
		meta, updatedAt, found, err := d.Describe(ctx, target.key)
		if err != nil {
			return stateDump{}, fmt.Errorf("describe %s: %w", target.key, err)
		}
		if found {
			dump.Stored = append(dump.Stored, storedKey{Key: target.key, UpdatedAt: updatedAt, Metadata: meta})
		}
	}
	return dump, nil
}

func writeJSON(w io.Writer, dump stateDump) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}

func writeTable(w io.Writer, dump stateDump) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "RELIGION\tDEITY\tFOUNDER\tMEMBERS\tPUBLIC\tRANK")
	for _, r := range dump.Religions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n",
			r.Name, r.Deity, r.FounderID, r.MemberCount(), r.IsPublic, r.PrestigeRank)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "CIVILIZATION\tANCHOR\tFOUNDER\tRELIGIONS\tMEMBERS")
	for _, c := range dump.Civilizations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			c.Name, c.AnchorReligionID, c.FounderPlayerID, strings.Join(c.ReligionIDs, ","), c.MemberCount)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "pending religion invites:\t%d\n", len(dump.ReligionInvites))
	fmt.Fprintf(tw, "pending civilization invites:\t%d\n", len(dump.CivilizationInvites))
	if len(dump.Missing) > 0 {
		fmt.Fprintf(tw, "never stored:\t%s\n", strings.Join(dump.Missing, ","))
	}

	if len(dump.Stored) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "KEY\tUPDATED\tBYTES\tSCHEMA")
		for _, k := range dump.Stored {
			fmt.Fprintf(tw, "%s\t%s\t%v\t%v\n",
				k.Key, k.UpdatedAt.UTC().Format(time.RFC3339), k.Metadata["bytes"], k.Metadata["schema_version"])
		}
	}
	return tw.Flush()
}
