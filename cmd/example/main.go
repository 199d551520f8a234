package main

import (
	"fmt"
	"log"

	pijul "github.com/und3fined/pijul"
	"github.com/und3fined/pijul/pkg/logging"
)

func main() {
	fmt.Println("Starting pijul example")

	repo, err := pijul.New(pijul.Config{InMemory: true, Logger: logging.Discard()})
	if err != nil {
		log.Fatalf("failed to open repository: %s", err)
	}
	defer repo.Close()

	if err := repo.Init("main"); err != nil {
		log.Fatalf("failed to create channel: %s", err)
	}

	// record a base version
	wc := repo.WorkingCopy()
	if err := wc.Write("greeting", []byte("hello\nworld\n")); err != nil {
		log.Fatal(err)
	}
	base, err := repo.Record("main", "base")
	if err != nil {
		log.Fatalf("record failed: %s", err)
	}
	fmt.Printf("recorded base change %s\n", base)

	// two divergent edits on forked channels
	if err := repo.Fork("main", "other"); err != nil {
		log.Fatal(err)
	}
	if err := wc.Write("greeting", []byte("hello\ndear\nworld\n")); err != nil {
		log.Fatal(err)
	}
	mainEdit, err := repo.Record("main", "main edit")
	if err != nil {
		log.Fatalf("record failed: %s", err)
	}
	fmt.Printf("recorded main edit %s\n", mainEdit)

	// refresh the working copy from the fork before the second edit
	if err := repo.Output("other"); err != nil {
		log.Fatal(err)
	}
	if err := wc.Write("greeting", []byte("hello\ncruel\nworld\n")); err != nil {
		log.Fatal(err)
	}
	otherEdit, err := repo.Record("other", "other edit")
	if err != nil {
		log.Fatalf("record failed: %s", err)
	}
	fmt.Printf("recorded other edit %s\n", otherEdit)

	// merging the fork back surfaces the conflict as data
	conflicts, err := repo.Apply("main", otherEdit)
	if err != nil {
		log.Fatalf("apply failed: %s", err)
	}
	fmt.Printf("apply reported %d conflicts\n", len(conflicts))

	text, err := repo.FileText("main", "greeting")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("merged file with conflict markers:")
	fmt.Print(string(text))
}
