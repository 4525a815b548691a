// Storectl is a read-only inspection tool for the gateway/node SQLite
// database, useful for field debugging without disturbing a running
// deployable.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "storectl",
	Short: "Read-only inspector for the SAST sensor database",
}

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List configured sensors and their warn thresholds",
	RunE:  listSensors,
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent reading per sensor",
	RunE:  listLatest,
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Show outstanding notification state per sensor",
	RunE:  listNotify,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the node's own system status row",
	RunE:  showStatus,
}

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Execute a raw read-only SQL query",
	Args:  cobra.ExactArgs(1),
	RunE:  executeQuery,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/sast/sast.db", "database file path")
	rootCmd.AddCommand(sensorsCmd, latestCmd, notifyCmd, statusCmd, queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath+"?mode=ro")
}

func listSensors(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT mac, name, node, use, warn, ambient_conf FROM conf ORDER BY node, mac`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tNAME\tNODE\tUSE\tWARN\tAMBIENT")
	fmt.Fprintln(w, "---\t----\t----\t---\t----\t-------")
	for rows.Next() {
		var mac, name, node, warn, ambient sql.NullString
		var use sql.NullBool
		if err := rows.Scan(&mac, &name, &node, &use, &warn, &ambient); err != nil {
			return err
		}
		useStr := "N"
		if use.Bool {
			useStr = "Y"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", mac.String, name.String, node.String, useStr, warn.String, ambient.String)
	}
	return w.Flush()
}

func listLatest(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT mac, date, node, templ, humid, batt, rssi, status FROM latest ORDER BY node`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tDATE\tNODE\tTEMPL\tHUMID\tBATT\tRSSI\tSTATUS")
	fmt.Fprintln(w, "---\t----\t----\t-----\t-----\t----\t----\t------")
	for rows.Next() {
		var mac, date string
		var node, rssi, status sql.NullInt64
		var templ, humid, batt sql.NullFloat64
		if err := rows.Scan(&mac, &date, &node, &templ, &humid, &batt, &rssi, &status); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%.1f\t%.1f\t%d\t%d\n",
			mac, date, node.Int64, templ.Float64, humid.Float64, batt.Float64, rssi.Int64, status.Int64)
	}
	return w.Flush()
}

func listNotify(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT mac, date, lost_date, status, notify, count, node FROM notify ORDER BY node`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tDATE\tLOST DATE\tSTATUS\tNOTIFY\tCOUNT\tNODE")
	fmt.Fprintln(w, "---\t----\t---------\t------\t------\t-----\t----")
	for rows.Next() {
		var mac string
		var date, lostDate sql.NullString
		var status int
		var notify, count, node sql.NullInt64
		if err := rows.Scan(&mac, &date, &lostDate, &status, &notify, &count, &node); err != nil {
			return err
		}
		notifyStr := "N"
		if notify.Int64 != 0 {
			notifyStr = "Y"
		}
		lostStr := lostDate.String
		if lostStr == "" {
			lostStr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%d\n", mac, date.String, lostStr, status, notifyStr, count.Int64, node.Int64)
	}
	return w.Flush()
}

func showStatus(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var stat int
	if err := db.QueryRow(`SELECT stat FROM status ORDER BY id DESC LIMIT 1`).Scan(&stat); err != nil {
		return err
	}
	fmt.Printf("node status: %d\n", stat)
	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	query := args[0]
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return fmt.Errorf("storectl: only SELECT queries are allowed")
	}

	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]interface{}, len(cols))
	valuePtrs := make([]interface{}, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}
		var row []string
		for _, v := range values {
			switch val := v.(type) {
			case nil:
				row = append(row, "NULL")
			case []byte:
				row = append(row, string(val))
			default:
				row = append(row, fmt.Sprintf("%v", val))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}
