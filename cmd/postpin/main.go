// Command postpin maintains the post-URL list. With -url it appends one
// post to the list stored in the CI variable (deduplicated, normalized,
// newest first); with -render it writes the list to the static JSON file
// the page loads. The deploy job renders, the manual dispatch appends.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	sitekeeper "github.com/yaserodev/sitekeeper"
)

const (
	envGitHubToken      = "GITHUB_TOKEN"
	envGitHubRepository = "GITHUB_REPOSITORY"
	envGitHubAPIURL     = "GITHUB_API_URL"

	defaultVariable = "YASERO_DEV_POSTS"
)

func main() {
	_ = godotenv.Load()

	var (
		addURL   = flag.String("url", "", "Post URL to append to the list")
		render   = flag.String("render", "", "Path of the JSON file to render the list to")
		repo     = flag.String("repo", os.Getenv(envGitHubRepository), "Repository holding the variable (owner/name)")
		variable = flag.String("variable", defaultVariable, "Name of the CI variable holding the list")
		value    = flag.String("value", "", "Read the list from this JSON array instead of the variable store")
	)
	flag.Usage = usage
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		exit(err)
	}
	if *addURL == "" && *render == "" {
		exitUsage(fmt.Errorf("nothing to do: pass -url and/or -render"))
	}

	list, store, err := load(logger, *repo, *variable, *value)
	if err != nil {
		exitUsage(err)
	}

	if *addURL != "" {
		added, err := list.Add(*addURL)
		if err != nil {
			exitUsage(err)
		}
		if !added {
			logger.Infow("post already listed, nothing to do", "url", *addURL)
		} else {
			if store == nil {
				exitUsage(fmt.Errorf("-url requires the variable store: set %s and %s",
					envGitHubToken, envGitHubRepository))
			}
			encoded, err := list.Encode()
			if err != nil {
				exit(err)
			}
			if err := store.Set(*variable, encoded); err != nil {
				exit(err)
			}
			logger.Infow("appended post",
				"url", *addURL,
				"variable", *variable,
				"posts", len(list.URLs))
		}
	}

	if *render != "" {
		if err := list.Render(*render); err != nil {
			exit(err)
		}
		logger.Infow("rendered post list", "out", *render, "posts", len(list.URLs))
	}
}

// load resolves the current list, either from the -value flag or from the
// CI variable store. The store is nil when no credentials are configured,
// which is fine for render-only runs fed through -value.
func load(logger *zap.SugaredLogger, repo, variable, value string) (sitekeeper.PostList, *sitekeeper.VariableStore, error) {
	if value != "" {
		list, err := sitekeeper.ParsePostList(value)
		return list, nil, err
	}

	token := os.Getenv(envGitHubToken)
	if token == "" || repo == "" {
		return sitekeeper.PostList{}, nil, fmt.Errorf(
			"no -value given and no variable store configured: set %s and %s",
			envGitHubToken, envGitHubRepository)
	}
	storeOptions := []func(*sitekeeper.VariableStore){
		sitekeeper.WithStoreLogger(logger),
	}
	if base := os.Getenv(envGitHubAPIURL); base != "" {
		storeOptions = append(storeOptions, sitekeeper.WithStoreBaseURL(base))
	}
	store, err := sitekeeper.NewVariableStore(repo, token, storeOptions...)
	if err != nil {
		return sitekeeper.PostList{}, nil, err
	}
	raw, err := store.Get(variable)
	if err != nil {
		return sitekeeper.PostList{}, nil, err
	}
	list, err := sitekeeper.ParsePostList(raw)
	return list, store, err
}

func newLogger() (*zap.SugaredLogger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	switch strings.ToLower(os.Getenv("ENV")) {
	case "prod", "production":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func exit(err error) {
	log.SetFlags(0)
	log.SetPrefix("")
	log.Fatal(err)
}

func exitUsage(err error) {
	log.SetFlags(0)
	log.SetPrefix(filepath.Base(os.Args[0]) + ": ")
	log.Print(err)
	flag.Usage()
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		`usage: %s [-url post-url] [-render path] [optional arguments]

Maintains the deduplicated, newest-first list of post URLs. Twitter hosts
are normalized to x.com before the duplicate check, so appending the same
post twice is a no-op.

Arguments:
  -url         Post URL to append to the list stored in the CI variable.
  -render      Path to render the list to as a JSON array, e.g.
               public/data/yasero_dev_posts.json.
  -repo        Repository holding the variable, in owner/name format.
               Defaults to $%s.
  -variable    Name of the CI variable. Default %q.
  -value       Read the list from this JSON array instead of the variable
               store. Useful for render-only runs where the variable is
               already exposed in the environment.

environment:
  %-20s GitHub token with actions:write. Required unless
                       -value is used for a render-only run.
  %-20s Default repository (owner/name).
  %-20s Override the GitHub API base URL.
`,
		filepath.Base(os.Args[0]),
		envGitHubRepository,
		defaultVariable,
		envGitHubToken,
		envGitHubRepository,
		envGitHubAPIURL)
}
