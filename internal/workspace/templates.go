package workspace

const configTemplate = `# Values here are overridden by PLANENGINE_* environment variables.
timezone: Asia/Shanghai

database:
  driver: sqlite
  # Relative paths resolve from the workspace root.
  dsn: data/planengine.db

http:
  addr: ":8080"

auth:
  issuer: planengine
  # secret: set PLANENGINE_AUTH_SECRET instead of committing it.

thresholds:
  draft_timeout: 168h
  approval_timeout: 72h
  dedupe_window: 24h
  stats_ttl: 60s

preconditions:
  require_responsible_person: true
  require_start_time: true
  require_name: true

daemon:
  poll_interval: 1s
  lease: 5m

log:
  level: info
  format: text
`

const directoryTemplate = `companies:
  - id: c1
    name: Example Co

departments:
  - id: d1
    name: Operations
    company_id: c1
    manager: manager

users:
  - id: admin
    name: Admin
    company_id: c1
    roles: [general_manager]
  - id: manager
    name: Department Manager
    company_id: c1
    department_id: d1
    roles: [department_manager]
  - id: staff
    name: Staff
    company_id: c1
    department_id: d1
    roles: [employee]
    supervisor: manager
`

const policyTemplate = `roles:
  general_manager:
    - plan_management.view_all
    - plan_management.approve_plan
    - plan_management.approve_goal
    - plan_management.change_plan
    - plan_management.change_goal
    - plan_management.add_plan
    - plan_management.add_goal
  department_manager:
    - plan_management.view_department
    - plan_management.approve_plan
    - plan_management.add_plan
    - plan_management.add_goal
  employee:
    - plan_management.view_assigned
    - plan_management.add_plan
    - plan_management.add_goal
`
