package mcpserver

// PageFormatContract describes the on-disk page format so LLM consumers can
// read raw pages and write well-formed ones.
const PageFormatContract = `# Page Format

Every page is one UTF-8 Markdown file named after its slug. Metadata lives in a
YAML block between ` + "`---`" + ` lines at the top of the file.

## Structure

` + "```" + `markdown
---
title: Docker Setup            # REQUIRED, non-blank
tags: [devops, docker]         # lowercase, unique, at most 20
access: all                    # all | restricted | sensitive | confidential
sensitive: false
encrypted: false               # true: the body is an AES-256-GCM ciphertext
updatedAt: "2026-01-15T10:00:00.000Z"
version: 3                     # incremented on every save
category: ops                  # any other key is kept as-is
---

Body text in Markdown.
` + "```" + `

## Rules

1. **Slugs** match ` + "`[a-z0-9][a-z0-9-]*`" + ` and are at most 80 characters.
2. **Tags** are normalised to lowercase and de-duplicated on save.
3. **updatedAt** and **version** are owned by the store; values sent by callers
   are ignored.
4. **Encrypted pages** keep their envelope in ` + "`encAlg`, `encNonce` and `encTag`" + `.
   Do not edit those keys.
5. Unknown keys are preserved across saves.

## Search syntax

- Bare words and ` + "`\"quoted phrases\"`" + ` must all match.
- ` + "`NOT word`" + ` excludes pages containing the word (upper-case NOT only).
- ` + "`tag:name`" + ` restricts results to pages carrying that tag.
`
