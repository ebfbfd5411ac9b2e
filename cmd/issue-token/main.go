package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/exstem-proctor/internal/auth"
	"github.com/stemsi/exstem-proctor/internal/config"
	"golang.org/x/term"
)

// issue-token signs a student or proctor token for local testing against an
// agent that shares JWT_SECRET.
func main() {
	ttl := flag.Duration("ttl", 4*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.Load()

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Proctor Agent Token ===")

	// User ID
	fmt.Print("Enter User ID: ")
	idStr, _ := reader.ReadString('\n')
	userID, err := strconv.Atoi(strings.TrimSpace(idStr))
	if err != nil || userID <= 0 {
		fmt.Println("Error: User ID must be a positive number")
		os.Exit(1)
	}

	// Name
	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)

	// Role
	fmt.Print("Enter Role (student/proctor) [student]: ")
	roleStr, _ := reader.ReadString('\n')
	role := auth.Role(strings.TrimSpace(roleStr))
	if role == "" {
		role = auth.RoleStudent
	}
	if role != auth.RoleStudent && role != auth.RoleProctor {
		fmt.Println("Error: Role must be student or proctor")
		os.Exit(1)
	}

	// Secret, unless the environment provides it
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Print("Enter JWT Secret (empty for the dev default): ")
		byteSecret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // Newline after secret input
		if err != nil {
			fmt.Println("Error reading secret")
			os.Exit(1)
		}
		secret = string(byteSecret)
		if secret == "" {
			secret = cfg.JWTSecret
		}
	}

	token, err := auth.NewVerifier(secret, *ttl).Issue(auth.Identity{UserID: userID, Name: name, Role: role})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
