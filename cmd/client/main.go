// Command multichat-client is a minimal terminal demo of the client driver:
// it joins a group, creates one virtual user, and prints every update it
// receives while relaying stdin lines as messages.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/htrefil/multichat/client"
	"github.com/htrefil/multichat/internal/auth"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "server address")
	token := flag.String("token", "", "64-hex-character access token")
	group := flag.String("group", "lobby", "group name to join")
	name := flag.String("name", "guest", "display name for the virtual user")
	useTLS := flag.Bool("tls", false, "connect with TLS")
	flag.Parse()

	if *token == "" {
		log.Fatal("multichat-client: -token is required")
	}
	tok, err := auth.ParseToken(*token)
	if err != nil {
		log.Fatalf("multichat-client: %v", err)
	}

	var conn net.Conn
	if *useTLS {
		conn, err = tls.Dial("tcp", *addr, &tls.Config{})
	} else {
		conn, err = net.Dial("tcp", *addr)
	}
	if err != nil {
		log.Fatalf("multichat-client: dial: %v", err)
	}

	c, err := client.Connect(conn, tok, client.Config{})
	if err != nil {
		log.Fatalf("multichat-client: connect: %v", err)
	}

	gid, err := c.JoinGroup(*group)
	if err != nil {
		log.Fatalf("multichat-client: join group: %v", err)
	}
	uid, err := c.InitUser(gid, *name)
	if err != nil {
		log.Fatalf("multichat-client: init user: %v", err)
	}
	fmt.Printf("joined %q as %q (gid=%d uid=%d)\n", *group, *name, gid, uid)

	ctx := context.Background()
	go func() {
		for {
			u, err := c.ReadUpdate(ctx)
			if err != nil {
				log.Printf("multichat-client: connection ended: %v", err)
				os.Exit(0)
			}
			printUpdate(u)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := c.SendMessage(gid, uid, scanner.Text(), nil); err != nil {
			log.Fatalf("multichat-client: send message: %v", err)
		}
	}
}

func printUpdate(u client.Update) {
	switch u.Kind {
	case client.Message:
		fmt.Printf("[gid=%d] uid=%d: %s\n", u.GID, u.UID, u.Text)
	case client.InitUser:
		fmt.Printf("[gid=%d] %s joined (uid=%d)\n", u.GID, u.Name, u.UID)
	case client.DestroyUser:
		fmt.Printf("[gid=%d] uid=%d left\n", u.GID, u.UID)
	case client.Rename:
		fmt.Printf("[gid=%d] uid=%d renamed to %s\n", u.GID, u.UID, u.Name)
	case client.InitGroup:
		fmt.Printf("group %q now available (gid=%d)\n", u.Name, u.GID)
	case client.DestroyGroup:
		fmt.Printf("group gid=%d destroyed\n", u.GID)
	}
	for _, a := range u.Attachments {
		fmt.Printf("  attachment %d available: %d bytes\n", a.ID, a.Size)
	}
}
