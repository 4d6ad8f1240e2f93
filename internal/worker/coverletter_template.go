package worker

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"aihub/internal/database"
)

// coverLetterTemplateString 是求职信 PDF 渲染的 Go HTML 模板。
// A4 纵向，打印样式通过 @page 控制。
const coverLetterTemplateString = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        @page {
            size: A4 portrait;
            margin: 25mm 20mm;
        }
        body {
            margin: 0;
            font-family: 'Georgia', 'Times New Roman', serif;
            font-size: 11pt;
            line-height: 1.6;
            color: #1a1a1a;
        }
        .date {
            margin-bottom: 24px;
            color: #555;
        }
        .letter p {
            margin: 0 0 14px 0;
            text-align: justify;
        }
        .summary {
            margin-top: 32px;
            padding-top: 16px;
            border-top: 1px solid #ccc;
            font-size: 9pt;
            color: #777;
        }
    </style>
</head>
<body>
    <div class="date">{{.Date}}</div>
    <div class="letter">
        {{range .Paragraphs}}<p>{{.}}</p>
        {{end}}
    </div>
    {{if .Summary}}
    <div class="summary">{{.Summary}}</div>
    {{end}}
</body>
</html>`

var coverLetterTemplate = template.Must(template.New("coverletter").Parse(coverLetterTemplateString))

type coverLetterTemplateData struct {
	Date       string
	Paragraphs []string
	Summary    string
}

// renderCoverLetterHTML 把申请中的求职信文本渲染为可打印的 HTML。
// 求职信按空行切分为段落，模板负责转义。
func renderCoverLetterHTML(application *database.JobApplication) (string, error) {
	paragraphs := make([]string, 0, 8)
	for _, block := range strings.Split(application.CoverLetter, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		paragraphs = append(paragraphs, strings.ReplaceAll(block, "\n", " "))
	}

	data := coverLetterTemplateData{
		Date:       time.Now().Format("January 2, 2006"),
		Paragraphs: paragraphs,
		Summary:    strings.TrimSpace(application.Summary),
	}

	var buf bytes.Buffer
	if err := coverLetterTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute cover letter template: %w", err)
	}
	return buf.String(), nil
}
