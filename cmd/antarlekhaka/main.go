// Package main provides the Antarlekhaka admin CLI: corpus ingestion,
// account management, annotation cloning and chapter export, all against
// the same database the API server uses.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/Antarlekhaka/code/internal/app"
	"github.com/Antarlekhaka/code/internal/archive"
	"github.com/Antarlekhaka/code/internal/authpw"
	"github.com/Antarlekhaka/code/internal/config"
	"github.com/Antarlekhaka/code/internal/conllu"
	"github.com/Antarlekhaka/code/internal/export"
	"github.com/Antarlekhaka/code/internal/search"
	"github.com/Antarlekhaka/code/internal/store"
)

var CLI struct {
	AddChapter AddChapterCmd `cmd:"" help:"Ingest a CoNLL-U chapter file into a corpus"`
	CreateUser CreateUserCmd `cmd:"" help:"Create a user account"`
	Clone      CloneCmd      `cmd:"" help:"Copy one annotator's chapter annotations to another annotator"`
	Export     ExportCmd     `cmd:"" help:"Export a chapter's annotations"`
	Bootstrap  BootstrapCmd  `cmd:"" help:"Seed tasks, roles and system accounts"`
}

// cliContext carries the shared wiring into every subcommand.
type cliContext struct {
	ctx     context.Context
	cfg     config.Config
	store   *store.PostgresStore
	service *app.Service
}

type AddChapterCmd struct {
	CorpusID    int64  `name:"corpus-id" required:"" help:"Corpus to add the chapter to"`
	Name        string `name:"name" required:"" help:"Chapter name, must be unique"`
	Description string `name:"description" help:"Chapter description"`
	File        string `arg:"" type:"path" help:"CoNLL-U file to ingest"`
}

func (c *AddChapterCmd) Run(cc *cliContext) error {
	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("open chapter file: %w", err)
	}
	defer f.Close()

	verses, err := conllu.Parse(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", c.File, err)
	}

	chapterID, err := cc.service.IngestChapter(cc.ctx, c.CorpusID, c.Name, c.Description, verses)
	if err != nil {
		return err
	}
	fmt.Printf("Chapter %q added with id %d (%d verses)\n", c.Name, chapterID, len(verses))
	return nil
}

type CreateUserCmd struct {
	Username string `name:"username" required:"" help:"Account username"`
	Email    string `name:"email" required:"" help:"Account email"`
	Password string `name:"password" required:"" help:"Account password, at least 8 characters"`
	Role     string `name:"role" default:"annotator" help:"Role to assign: guest, annotator, curator or admin"`
}

func (c *CreateUserCmd) Run(cc *cliContext) error {
	userID, err := cc.service.AuthPasswordService().SignUp(cc.ctx, authpw.SignUpRequest{
		Username: c.Username,
		Email:    c.Email,
		Password: c.Password,
	})
	if err != nil {
		return err
	}
	if err := cc.service.AssignRole(cc.ctx, userID, c.Role); err != nil {
		return err
	}
	fmt.Printf("User %q created with id %d, role %s\n", c.Username, userID, c.Role)
	return nil
}

type CloneCmd struct {
	Sources  []int64 `name:"source" required:"" help:"Source annotator user ids (repeatable)"`
	Target   int64   `name:"target" required:"" help:"Target annotator user id"`
	Chapters []int64 `name:"chapter-id" help:"Chapters to clone within; defaults to all chapters"`
	Tasks    []int64 `name:"task-id" help:"Tasks to clone; defaults to all tasks, boundaries always included"`
}

func (c *CloneCmd) Run(cc *cliContext) error {
	summary, err := cc.service.CloneAnnotations(cc.ctx, app.CloneRequest{
		SourceAnnotatorIDs: c.Sources,
		TargetAnnotatorID:  c.Target,
		TaskIDs:            c.Tasks,
		ChapterIDs:         c.Chapters,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Cloned onto annotator %d: %d boundaries, %d word order rows, %d text annotations, "+
		"%d token classifications, %d token graph edges, %d token connections, "+
		"%d sentence classifications, %d sentence graph edges\n",
		c.Target, summary.Boundaries, summary.WordOrder, summary.TextAnnotations,
		summary.TokenClassifications, summary.TokenGraph, summary.TokenConnections,
		summary.SentenceClassifications, summary.SentenceGraph)
	return nil
}

type ExportCmd struct {
	ChapterID   int64  `name:"chapter-id" required:"" help:"Chapter to export"`
	AnnotatorID int64  `name:"annotator-id" required:"" help:"Annotator whose annotations to export"`
	Format      string `name:"format" default:"json" help:"Export format: json, text, html or pdf"`
	Output      string `name:"output" type:"path" help:"Output file; defaults to the export directory"`
}

func (c *ExportCmd) Run(cc *cliContext) error {
	archiveService := archive.New(cc.cfg.SnapshotsDir)
	exporter := export.NewService(cc.store, nil, archiveService, cc.cfg.ChromeDevtools)

	result, err := exporter.Export(cc.ctx, export.Request{
		ChapterID:   c.ChapterID,
		AnnotatorID: c.AnnotatorID,
		Format:      export.Format(strings.ToLower(c.Format)),
	})
	if err != nil {
		return err
	}

	path := c.Output
	if path == "" {
		if err := os.MkdirAll(cc.cfg.ExportDir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
		path = filepath.Join(cc.cfg.ExportDir, result.Filename)
	}
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("Exported chapter %d to %s (%d bytes)\n", c.ChapterID, path, len(result.Data))
	return nil
}

type BootstrapCmd struct{}

func (c *BootstrapCmd) Run(cc *cliContext) error {
	if err := cc.service.Bootstrap(cc.ctx); err != nil {
		return err
	}
	fmt.Println("Bootstrap complete")
	return nil
}

func main() {
	parsed := kong.Parse(&CLI,
		kong.Name("antarlekhaka"),
		kong.Description("Admin tooling for the Antarlekhaka annotation platform"),
		kong.UsageOnError(),
	)

	ctx := context.Background()
	cfg := config.Load()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		parsed.FatalIfErrorf(fmt.Errorf("database connection failed: %w", err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		parsed.FatalIfErrorf(fmt.Errorf("migrations failed: %w", err))
	}

	dataStore := store.NewPostgresStore(db)
	service := app.New(cfg, dataStore, dataStore)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	service.SetTokenIndexer(search.NewService(meiliClient, pgfts))

	parsed.FatalIfErrorf(parsed.Run(&cliContext{
		ctx:     ctx,
		cfg:     cfg,
		store:   dataStore,
		service: service,
	}))
}
