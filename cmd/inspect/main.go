// Command inspect prints the chats and messages of a relay store without
// taking the write lock, so it can run next to a live relay.
package main

import (
	"chat-relay/domain"
	"chat-relay/repositories"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	chatID := flag.String("chat", "", "Print the messages of this chat instead of the chat list")
	limit := flag.Int("limit", 50, "Number of messages to print")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := newTable()
	if *chatID == "" {
		err = printChats(db, table)
	} else {
		err = printMessages(db, table, domain.ChatID(*chatID), *limit)
	}
	if err != nil {
		log.Fatal(err)
	}
	table.Render()
}

func printChats(db *badger.DB, table *tablewriter.Table) error {
	table.SetHeader([]string{"Chat ID", "Kind", "Name", "Participants", "Created", "Last activity"})
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("chat:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var chat domain.Chat
				if err := json.Unmarshal(v, &chat); err != nil {
					// Keep going, one bad record must not hide the rest.
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}
				kind := "direct"
				if chat.IsGroup {
					kind = "group"
				}
				table.Append([]string{
					string(chat.ID),
					kind,
					chat.Name,
					strings.Join(lo.Map(chat.Participants, func(id domain.UserID, _ int) string { return string(id) }), ", "),
					formatMillis(chat.CreatedAt),
					formatMillis(chat.LastActivity),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func printMessages(db *badger.DB, table *tablewriter.Table, chatID domain.ChatID, limit int) error {
	table.SetHeader([]string{"ID", "Sender", "Timestamp", "Encrypted", "Content", "File"})
	repository := repositories.NewMessageRepository(db, logs.GetLoggerFromLevel(slog.LevelWarn))
	messages, err := repository.GetMessages(chatID, 0, limit)
	if err != nil {
		return err
	}
	for _, m := range messages {
		table.Append([]string{
			strconv.FormatInt(int64(m.ID), 10),
			string(m.SenderID),
			formatMillis(m.Timestamp),
			strconv.FormatBool(m.Encrypted),
			truncate(m.Content, 60),
			m.FileURL,
		})
	}
	return nil
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.DateTime)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
