// Command acid-store is a minimal CLI collaborator over the
// Repository/Object public API (SPEC_FULL.md §6), following the
// teacher's cmd/cli hand-rolled flag.NewFlagSet-per-subcommand style
// rather than a CLI framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	acidstore "github.com/lostatc/acid-store"
	"github.com/lostatc/acid-store/internal/config"
	"github.com/lostatc/acid-store/pkg/backend"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create":
		cmdCreate(os.Args[2:])
	case "put":
		cmdPut(os.Args[2:])
	case "get":
		cmdGet(os.Args[2:])
	case "rm":
		cmdRm(os.Args[2:])
	case "ls":
		cmdLs(os.Args[2:])
	case "verify":
		cmdVerify(os.Args[2:])
	case "rotate-password":
		cmdRotatePassword(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: acid-store <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  create -dir <path> -password <pw>")
	fmt.Println("  put -dir <path> -password <pw> -id <id> <file>")
	fmt.Println("  get -dir <path> -password <pw> -id <id> <outfile>")
	fmt.Println("  rm -dir <path> -password <pw> -id <id>")
	fmt.Println("  ls -dir <path> -password <pw>")
	fmt.Println("  verify -dir <path> -password <pw>")
	fmt.Println("  rotate-password -dir <path> -old <pw> -new <pw>")
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dir := fs.String("dir", "", "backend directory")
	password := fs.String("password", "", "repository password")
	fs.Parse(args)

	be, err := backend.NewDirectory(*dir)
	fatalIf(err)
	ctx := context.Background()
	repo, err := acidstore.Create(ctx, be, *password, config.DefaultRepositoryConfig())
	fatalIf(err)
	fatalIf(repo.Close(ctx))
	fmt.Println("repository created at", *dir)
}

func openRepo(dir, password string) (*acidstore.Repository, backend.Backend) {
	be, err := backend.NewDirectory(dir)
	fatalIf(err)
	opts := config.DefaultOpenConfig()
	opts.Password = password
	repo, err := acidstore.Open(context.Background(), be, opts)
	fatalIf(err)
	return repo, be
}

func cmdPut(args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	dir := fs.String("dir", "", "backend directory")
	password := fs.String("password", "", "repository password")
	id := fs.String("id", "", "object id")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: acid-store put -dir <path> -password <pw> -id <id> <file>")
		os.Exit(1)
	}

	repo, _ := openRepo(*dir, *password)
	ctx := context.Background()
	data, err := os.ReadFile(fs.Arg(0))
	fatalIf(err)

	obj, err := repo.CreateObject([]byte(*id))
	fatalIf(err)
	fatalIf(obj.Write(ctx, 0, data))
	fatalIf(repo.Commit(ctx))
	fatalIf(repo.Close(ctx))
	fmt.Printf("stored %d bytes as %q\n", len(data), *id)
}

func cmdGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	dir := fs.String("dir", "", "backend directory")
	password := fs.String("password", "", "repository password")
	id := fs.String("id", "", "object id")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: acid-store get -dir <path> -password <pw> -id <id> <outfile>")
		os.Exit(1)
	}

	repo, _ := openRepo(*dir, *password)
	ctx := context.Background()
	obj, err := repo.OpenObject([]byte(*id))
	fatalIf(err)
	data, err := obj.Read(ctx, 0, obj.Length())
	fatalIf(err)
	fatalIf(os.WriteFile(fs.Arg(0), data, 0o644))
	fatalIf(repo.Close(ctx))
}

func cmdRm(args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	dir := fs.String("dir", "", "backend directory")
	password := fs.String("password", "", "repository password")
	id := fs.String("id", "", "object id")
	fs.Parse(args)

	repo, _ := openRepo(*dir, *password)
	ctx := context.Background()
	fatalIf(repo.RemoveObject([]byte(*id)))
	fatalIf(repo.Commit(ctx))
	fatalIf(repo.Close(ctx))
}

func cmdLs(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	dir := fs.String("dir", "", "backend directory")
	password := fs.String("password", "", "repository password")
	fs.Parse(args)

	repo, _ := openRepo(*dir, *password)
	for _, id := range repo.ListObjects() {
		fmt.Println(string(id))
	}
	fatalIf(repo.Close(context.Background()))
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dir := fs.String("dir", "", "backend directory")
	password := fs.String("password", "", "repository password")
	fs.Parse(args)

	repo, _ := openRepo(*dir, *password)
	ctx := context.Background()
	report, err := repo.Verify(ctx)
	fatalIf(err)
	fmt.Printf("checked %d chunks, %d offending\n", report.ChunksChecked, len(report.Offending))
	for _, off := range report.Offending {
		fmt.Printf("  corrupt chunk %x in block %x: %s\n", off.ChunkID, off.BlockID, off.Kind)
	}
	fatalIf(repo.Close(ctx))
}

func cmdRotatePassword(args []string) {
	fs := flag.NewFlagSet("rotate-password", flag.ExitOnError)
	dir := fs.String("dir", "", "backend directory")
	oldPw := fs.String("old", "", "current password")
	newPw := fs.String("new", "", "new password")
	fs.Parse(args)

	repo, _ := openRepo(*dir, *oldPw)
	ctx := context.Background()
	fatalIf(repo.ChangePassword(ctx, *oldPw, *newPw))
	fatalIf(repo.Close(ctx))
	fmt.Println("password rotated")
}

func fatalIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
