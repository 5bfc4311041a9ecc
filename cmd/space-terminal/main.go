package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/xlab2016/space-terminal-public/client"
	"github.com/xlab2016/space-terminal-public/internal/models"
	"github.com/xlab2016/space-terminal-public/internal/protocol"
)

// Line-oriented operator console. Connects, authenticates a generated
// identity and drives the relay from stdin.
func main() {
	url := "ws://localhost:8080/ws"
	if u := os.Getenv("ST_SERVER_URL"); u != "" {
		url = u
	}

	name := "operator"
	if n := os.Getenv("ST_NAME"); n != "" {
		name = n
	}

	identity, err := client.NewIdentity(name, models.ClientTypeMacOS)
	if err != nil {
		log.Fatalf("Failed to create identity: %v", err)
	}

	c, err := client.Dial(context.Background(), url, identity, client.Handlers{
		OnAuthenticated: func(resp protocol.AuthResponse) {
			fmt.Printf("authenticated as %s\n", resp.ClientID)
		},
		OnCommandRequest: func(cmd models.CommandExecution) {
			fmt.Printf("command request %s from %s: %q\n", cmd.ID, cmd.RequesterID, cmd.Command)
			fmt.Printf("  approve with: approve %s  (or: reject %s)\n", cmd.ID, cmd.ID)
		},
		OnCommandResponse: func(cmd models.CommandExecution) {
			fmt.Printf("command %s: %s\n", cmd.ID, cmd.Status)
		},
		OnChat: func(msg models.ChatMessage) {
			if msg.GroupID != "" {
				fmt.Printf("[%s] %s: %s\n", msg.GroupID, msg.SenderID, msg.Content)
			} else {
				fmt.Printf("%s: %s\n", msg.SenderID, msg.Content)
			}
		},
		OnGroupAck: func(msgType protocol.MessageType, ack protocol.GroupAck) {
			fmt.Printf("%s ack for group %s\n", msgType, ack.GroupID)
		},
		OnError: func(message string) {
			fmt.Printf("relay error: %s\n", message)
		},
	})
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", url, err)
	}
	defer c.Close()

	fmt.Printf("connected to %s as %s (%s)\n", url, name, identity.ID)
	fmt.Println("commands: chat <clientId> <text> | gchat <groupId> <text> | group <name> | join <groupId> | cmd <clientId> <command> | approve <commandId> | reject <commandId> | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)

		var err error
		switch fields[0] {
		case "quit":
			return

		case "chat":
			if len(fields) < 3 {
				fmt.Println("usage: chat <clientId> <text>")
				continue
			}
			err = c.SendChat(fields[1], fields[2])

		case "gchat":
			if len(fields) < 3 {
				fmt.Println("usage: gchat <groupId> <text>")
				continue
			}
			err = c.SendGroupChat(fields[1], fields[2])

		case "group":
			if len(fields) < 2 {
				fmt.Println("usage: group <name>")
				continue
			}
			var groupID string
			groupID, err = c.CreateGroup(fields[1])
			if err == nil {
				fmt.Printf("created group %s\n", groupID)
			}

		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <groupId>")
				continue
			}
			err = c.JoinGroup(fields[1])

		case "cmd":
			if len(fields) < 3 {
				fmt.Println("usage: cmd <clientId> <command>")
				continue
			}
			var commandID string
			commandID, err = c.SendCommand(fields[1], fields[2])
			if err == nil {
				fmt.Printf("requested command %s\n", commandID)
			}

		case "approve":
			if len(fields) < 2 {
				fmt.Println("usage: approve <commandId>")
				continue
			}
			err = c.ConfirmCommand(fields[1], true)

		case "reject":
			if len(fields) < 2 {
				fmt.Println("usage: reject <commandId>")
				continue
			}
			err = c.ConfirmCommand(fields[1], false)

		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}

		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
