package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"carexpert/client/app"
	"carexpert/client/domain"
)

type consoleNotifier struct{}

func (consoleNotifier) Success(msg string) { fmt.Println("[ok] " + msg) }
func (consoleNotifier) Error(msg string)   { fmt.Println("[error] " + msg) }
func (consoleNotifier) Info(msg string)    { fmt.Println("[info] " + msg) }

func main() {
	cfg := app.LoadConfig()
	a := app.New(cfg, consoleNotifier{}, func(reason string) {
		fmt.Printf("\nsession ended (%s), please log in again\n", reason)
	})
	defer a.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		log.Fatalf("start client: %v", err)
	}

	a.Router.Subscribe(func(evt domain.ChatEvent) {
		user := a.Sessions.CurrentUser()
		if user == nil || evt.SenderID == user.ID {
			return
		}
		fmt.Printf("\n%s: %s\n> ", evt.SenderName, evt.Text)
	})

	in := bufio.NewScanner(os.Stdin)
	if a.Sessions.CurrentUser() == nil {
		if !login(ctx, a, in) {
			return
		}
	}
	fmt.Println("commands: /ai /dm <userId> <name> /room <name> /members /clear /logout /quit")

	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !strings.HasPrefix(line, "/") {
			if err := a.Chats.SendMessage(ctx, line); err != nil {
				fmt.Printf("[error] send: %v\n", err)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/ai":
			a.Chats.SelectChat(ctx, domain.SelectAI())
		case "/dm":
			if len(fields) < 3 {
				fmt.Println("usage: /dm <userId> <name>")
				continue
			}
			a.Chats.SelectChat(ctx, domain.SelectDirect(domain.Peer{ID: fields[1], Name: strings.Join(fields[2:], " ")}))
		case "/room":
			if len(fields) < 2 {
				fmt.Println("usage: /room <name>")
				continue
			}
			name := strings.Join(fields[1:], " ")
			a.Chats.SelectChat(ctx, domain.SelectRoom(domain.Room{ID: name, Name: name}))
		case "/members":
			for _, m := range a.Chats.Members() {
				fmt.Printf("  %s (%s)\n", m.Name, m.ID)
			}
		case "/clear":
			a.Chats.ClearAIHistory(ctx)
		case "/logout":
			a.Sync.Logout()
			if !login(ctx, a, in) {
				return
			}
		case "/quit":
			return
		default:
			fmt.Println("unknown command")
		}
	}
}

func login(ctx context.Context, a *app.App, in *bufio.Scanner) bool {
	for {
		fmt.Print("email: ")
		if !in.Scan() {
			return false
		}
		email := strings.TrimSpace(in.Text())
		fmt.Print("password: ")
		if !in.Scan() {
			return false
		}
		password := strings.TrimSpace(in.Text())

		user, err := a.Sessions.Login(ctx, email, password)
		if err != nil {
			fmt.Printf("[error] login: %v\n", err)
			continue
		}
		fmt.Printf("welcome, %s\n", user.Name)
		a.ConnectRealtime(ctx)
		a.Chats.SelectChat(ctx, domain.SelectAI())
		return true
	}
}
