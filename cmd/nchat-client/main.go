// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nishisan-dev/n-chat/internal/client"
	"github.com/nishisan-dev/n-chat/internal/config"
	"github.com/nishisan-dev/n-chat/internal/logging"
	"github.com/nishisan-dev/n-chat/internal/protocol"
)

const usage = `Commands:
  /list                 list online users
  /msg <id> <text>      private message
  /send <id> <path>     offer a file to a peer
  /accept <file-id>     accept a pending file offer
  /decline <file-id>    decline a pending file offer
  /quit                 logout and exit
  anything else         group message
`

func main() {
	configPath := flag.String("config", "", "path to client config file (YAML)")
	nickname := flag.String("nickname", "", "nickname (overrides config)")
	flag.Parse()

	var cfg *config.ClientConfig
	if *configPath != "" {
		loaded, err := config.LoadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = &config.ClientConfig{}
	}

	if *nickname != "" {
		cfg.User.Nickname = *nickname
		cfg.User.ClientID = ""
	}

	// Overrides posicionais: [server-ip [port]]
	args := flag.Args()
	if len(args) >= 1 {
		cfg.Server.IP = args[0]
	}
	if len(args) >= 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 1 || port > 65535 {
			fmt.Fprintf(os.Stderr, "Invalid port %q\n", args[1])
			os.Exit(1)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	done := make(chan struct{})
	c := client.NewClient(cfg, logger, client.Callbacks{
		OnLoginResult: func(rsp protocol.LoginResponse) {
			if rsp.Result == protocol.LoginSuccess {
				fmt.Printf("* logged in as %s\n", cfg.User.Nickname)
			} else {
				fmt.Printf("* login failed: %s\n", rsp.Message)
			}
		},
		OnChat: func(msg protocol.ChatMessage) {
			ts := time.Unix(int64(msg.Timestamp), 0).Format("15:04:05")
			if msg.Scope == protocol.ChatPrivate {
				fmt.Printf("[%s] (private) %s: %s\n", ts, msg.FromNick, msg.Text)
			} else {
				fmt.Printf("[%s] %s: %s\n", ts, msg.FromNick, msg.Text)
			}
		},
		OnUserList: func(users []protocol.UserInfo) {
			fmt.Printf("* online (%d):", len(users))
			for _, u := range users {
				fmt.Printf(" %s(%s)", u.Nickname, u.ClientID)
			}
			fmt.Println()
		},
		OnFileOffer: func(offer protocol.FileOffer) {
			fmt.Printf("* %s offers %q (%d bytes) — /accept %s or /decline %s\n",
				offer.FromNick, offer.FileName, offer.FileSize, offer.FileID, offer.FileID)
		},
		OnOfferResult: func(rsp protocol.FileOfferResponse) {
			switch rsp.Result {
			case protocol.FileOfferAccept:
				fmt.Printf("* offer %s accepted, sending\n", rsp.FileID)
			case protocol.FileOfferBusy:
				fmt.Printf("* offer %s refused: %s\n", rsp.FileID, rsp.Message)
			default:
				fmt.Printf("* offer %s declined: %s\n", rsp.FileID, rsp.Message)
			}
		},
		OnTransferDone: func(fileID, path string, bytes uint64) {
			fmt.Printf("* transfer %s complete: %s (%d bytes)\n", fileID, path, bytes)
		},
		OnDisconnected: func(err error) {
			fmt.Println("* disconnected from server")
			close(done)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
		c.Close()
	}()

	if err := c.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting: %v\n", err)
		os.Exit(1)
	}
	if err := c.Login(); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending login: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(usage)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := dispatch(c, line); err != nil {
				fmt.Printf("* error: %v\n", err)
			}
			if line == "/quit" {
				return
			}
		}
		// EOF no stdin encerra a sessão.
		c.Logout()
	}()

	<-done
	c.Close()
}

// dispatch interpreta uma linha do terminal.
func dispatch(c *client.Client, line string) error {
	if !strings.HasPrefix(line, "/") {
		return c.SendGroupChat(line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/list":
		return c.RequestUserList()
	case "/msg":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /msg <id> <text>")
		}
		return c.SendPrivateChat(fields[1], strings.Join(fields[2:], " "))
	case "/send":
		if len(fields) != 3 {
			return fmt.Errorf("usage: /send <id> <path>")
		}
		fileID, err := c.OfferFile(fields[2], fields[1])
		if err != nil {
			return err
		}
		fmt.Printf("* offered as %s\n", fileID)
		return nil
	case "/accept":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /accept <file-id>")
		}
		return c.AcceptOffer(fields[1])
	case "/decline":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /decline <file-id>")
		}
		return c.DeclineOffer(fields[1])
	case "/quit":
		return c.Logout()
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}
