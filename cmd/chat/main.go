package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vadim/prodesk/internal/app"
	"github.com/vadim/prodesk/internal/chat/entity"
	"github.com/vadim/prodesk/internal/config"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: chat <command> [args]

Commands:
  list                     print conversation summaries
  open <room-id>           print the full history of one conversation
  start <user-id>          create or open the conversation with a user
  send <room-id> <text>    send a message
  upload <path>            upload an attachment and print its descriptor
  tail                     stay connected and log incoming events
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.MustLoad()
	application := app.New(cfg)

	ctx := context.Background()
	session, err := application.Mount(ctx, os.Getenv("PRODESK_USER_ID"))
	if err != nil {
		log.Fatalf("failed to mount chat session: %v", err)
	}
	defer session.Close()

	switch os.Args[1] {
	case "list":
		for _, conv := range session.Store.Conversations() {
			opp := conv.Opponent(os.Getenv("PRODESK_USER_ID"))
			last := ""
			if m := conv.LastMessage(); m != nil {
				last = m.Content
			}
			fmt.Printf("%s  %-20s  %s\n", conv.ID, opp.Name, last)
		}

	case "open":
		if len(os.Args) < 3 {
			usage()
		}
		conv, err := session.OpenConversation(ctx, os.Args[2])
		if err != nil {
			log.Fatalf("failed to open conversation: %v", err)
		}
		printThread(conv.ID, session)

	case "start":
		if len(os.Args) < 3 {
			usage()
		}
		conv, err := session.StartConversation(ctx, os.Args[2])
		if err != nil {
			log.Fatalf("failed to start conversation: %v", err)
		}
		fmt.Println(conv.ID)

	case "send":
		if len(os.Args) < 4 {
			usage()
		}
		if _, err := session.OpenConversation(ctx, os.Args[2]); err != nil {
			log.Fatalf("failed to open conversation: %v", err)
		}
		if err := session.SendMessage(os.Args[2], os.Args[3], nil); err != nil {
			log.Fatalf("failed to send message: %v", err)
		}
		// Give the echo a moment to land before disconnecting.
		time.Sleep(500 * time.Millisecond)

	case "upload":
		if len(os.Args) < 3 {
			usage()
		}
		f, err := os.Open(os.Args[2])
		if err != nil {
			log.Fatalf("failed to open file: %v", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			log.Fatalf("failed to stat file: %v", err)
		}
		att, err := session.UploadAttachment(ctx, filepath.Base(os.Args[2]),
			"application/octet-stream", info.Size(), f)
		if err != nil {
			log.Fatalf("failed to upload attachment: %v", err)
		}
		fmt.Printf("%s %s\n", att.Kind, att.ResolveURL(application.API.BaseURL()))

	case "tail":
		sub := session.Client.On(entity.EventReceiveMessage, func(data json.RawMessage) {
			var ev entity.ReceiveMessageData
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			fmt.Printf("%s  %s: %s\n", ev.RoomID, ev.Message.SenderID(), ev.Message.Content)
		})
		defer sub.Close()
		for _, conv := range session.Store.Conversations() {
			if err := session.Client.JoinRoom(conv.ID); err != nil {
				log.Printf("joining %s: %v", conv.ID, err)
			}
		}
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

	default:
		usage()
	}
}

func printThread(roomID string, session *app.Session) {
	conv, ok := session.Store.Get(roomID)
	if !ok {
		return
	}
	for _, m := range conv.Messages {
		line := m.Content
		if m.Attachment != nil {
			line += fmt.Sprintf(" [%s]", m.Attachment.Kind)
		}
		fmt.Printf("%s  %-12s  %s\n", m.SentAt.Format(time.RFC3339), m.Sender.ID, line)
	}
}
