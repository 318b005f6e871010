package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/quartier/community-app/internal/content"
	"github.com/quartier/community-app/internal/messaging"
	"github.com/quartier/community-app/internal/notification"
)

func main() {
	_ = godotenv.Load()

	log.Println("Starting Quartier notifier...")

	databaseURL := "postgres://localhost:5432/quartier?sslmode=disable"
	if v := os.Getenv("DATABASE_URL"); v != "" {
		databaseURL = v
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	cancel()

	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "quartier-notifier"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	contentStore := content.NewStore(db)
	notificationStore := notification.NewStore(db)

	// deliver writes the notification row and publishes it for whichever
	// server instance holds the target user's sockets.
	deliver := func(n *notification.Notification) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		saved, err := notificationStore.Create(ctx, n)
		if err != nil {
			log.Printf("[notifier] create notification user=%s: %v", n.UserID, err)
			return
		}

		data, err := json.Marshal(saved)
		if err != nil {
			log.Printf("[notifier] marshal notification user=%s: %v", n.UserID, err)
			return
		}
		if err := natsClient.PublishNotify(saved.UserID, data); err != nil {
			log.Printf("[notifier] publish notify user=%s: %v", saved.UserID, err)
		}
	}

	// New post: notify every community member except the author.
	err = natsClient.Subscribe(messaging.SubjectPostCreated, func(data []byte) {
		var event messaging.PostCreatedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[notifier] bad post.created payload: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		members, err := contentStore.CommunityMembers(ctx, event.CommunityID)
		cancel()
		if err != nil {
			log.Printf("[notifier] community members for %s: %v", event.CommunityID, err)
			return
		}

		for _, userID := range members {
			if userID == event.AuthorID {
				continue
			}
			deliver(&notification.Notification{
				UserID: userID,
				Kind:   notification.KindNewPost,
				Title:  event.Title,
				RefID:  event.PostID,
			})
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to post events: %v", err)
	}

	// New comment: notify the thread owner unless they wrote it themselves.
	err = natsClient.Subscribe(messaging.SubjectCommentCreated, func(data []byte) {
		var event messaging.CommentCreatedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[notifier] bad comment.created payload: %v", err)
			return
		}
		if event.PostAuthorID == "" || event.PostAuthorID == event.AuthorID {
			return
		}

		deliver(&notification.Notification{
			UserID: event.PostAuthorID,
			Kind:   notification.KindNewComment,
			Title:  event.PostTitle,
			RefID:  event.PostID,
		})
	})
	if err != nil {
		log.Fatalf("failed to subscribe to comment events: %v", err)
	}

	log.Printf("Quartier notifier running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	db.Close()
}
