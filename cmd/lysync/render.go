package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/lysync/internal/registry"
)

// deviceRow is one rendered registry record
type deviceRow struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	FirstSeen time.Time `json:"first_seen"`
}

type deviceListing struct {
	Marker string      `json:"marker"`
	Target []deviceRow `json:"target"`
	Other  []deviceRow `json:"other"`
}

// listDevices returns the records matching query, each carrying its
// unfiltered index so it can be passed to update.
func listDevices(reg *registry.Registry, query string) deviceListing {
	allTarget, allOther := reg.Search("")
	target, other := reg.Search(query)

	rows := func(all, matched []registry.Record) []deviceRow {
		index := make(map[string]int, len(all))
		for i, r := range all {
			index[r.ID] = i
		}
		out := make([]deviceRow, 0, len(matched))
		for _, r := range matched {
			out = append(out, deviceRow{Index: index[r.ID], Name: r.Name, Address: r.ID, FirstSeen: r.FirstSeen})
		}
		return out
	}

	return deviceListing{
		Marker: reg.Marker(),
		Target: rows(allTarget, target),
		Other:  rows(allOther, other),
	}
}

func renderDevices(w io.Writer, listing deviceListing, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(listing)
	}
	return renderDeviceTable(w, listing)
}

func renderDeviceTable(w io.Writer, listing deviceListing) error {
	if len(listing.Target) == 0 && len(listing.Other) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	header := color.New(color.Bold)
	section := func(title string, key string, rows []deviceRow) error {
		header.Fprintf(w, "%s (%d)\n", title, len(rows))
		if len(rows) == 0 {
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "REF\tNAME\tADDRESS")
		for _, r := range rows {
			name := r.Name
			if len(name) > 28 {
				name = name[:25] + "..."
			}
			fmt.Fprintf(tw, "%s %d\t%s\t%s\n", key, r.Index, name, r.Address)
		}
		return tw.Flush()
	}

	if err := section(listing.Marker+" devices", "t", listing.Target); err != nil {
		return err
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
	return section("Other devices", "o", listing.Other)
}
