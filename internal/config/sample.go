package config

// SampleYAML is written by the init command as a starting configuration.
const SampleYAML = `scraper:
  max_workers: 3
  default_delay: 2s
  timeout: 30s
  retries: 3
  rate_limit_rps: 0
  rate_limit_burst: 1

sites:
  - name: quotes
    base_url: https://quotes.toscrape.com
    enabled: true
    pages: ["/page/1/", "/page/2/"]
    delay: 1s
    selectors:
      container: div.quote
      fields:
        - {name: text, selector: span.text}
        - {name: author, selector: small.author}
        - {name: tags, selector: "div.tags a.tag"}

  - name: books
    base_url: https://books.toscrape.com
    enabled: true
    pages: ["/catalogue/page-1.html"]
    selectors:
      container: article.product_pod
      fields:
        - {name: title, selector: h3 a}
        - {name: price, selector: p.price_color}
        - {name: availability, selector: p.instock.availability}

  - name: example
    base_url: https://example.com
    enabled: false

storage:
  formats: [json, csv, sqlite]
  output_directory: scraped_data
  backend: local

logging:
  level: info
  development: false
  file: logs/scraper.log
`
